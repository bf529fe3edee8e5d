package connlog

import (
	"context"
	"net"

	"github.com/aidarkhanov/nanoid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// IDField is the log field holding the connection ID. The console writer in cmd/glass puts it in its own column.
const IDField = "conn"

type logPtr struct{}

// WithConn attaches a logger tagged with a fresh connection ID and the remote address to ctx
func WithConn(ctx context.Context, conn net.Conn) context.Context {
	logger := Log(ctx).With().
		Str(IDField, nanoid.New()).
		Stringer("remote", conn.RemoteAddr()).
		Logger()

	return WithLogger(ctx, &logger)
}

// WithLogger stores logger in ctx
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logPtr{}, logger)
}

// Log returns a zerolog Logger with additional context information (i.e. connection ID)
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logPtr{})
	if logger == nil {
		return &log.Logger
	}

	return logger.(*zerolog.Logger)
}
