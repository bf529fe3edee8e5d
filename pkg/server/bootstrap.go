package server

import (
	"context"
	"errors"
	"net"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rolling-glass/looking-glass/pkg/config"
	"github.com/rolling-glass/looking-glass/pkg/storage"
)

// VisitRecorder receives every exchange that was answered. *storage.Store implements it.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, visit storage.Visit) error
}

// Server answers status pings and login attempts on a TCP listener
type Server struct {
	cfg      *config.Config
	statuses *statusCache
	visits   VisitRecorder
}

// Option customizes a Server
type Option func(*Server)

// WithVisitRecorder reports each answered exchange to recorder
func WithVisitRecorder(recorder VisitRecorder) Option {
	return func(s *Server) {
		s.visits = recorder
	}
}

// New builds a server for the given (validated) config
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		statuses: newStatusCache(cfg),
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on the configured address and serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.cfg.Listener.Address)
	if err != nil {
		return eris.Wrapf(err, "failed to listen on %s", s.cfg.Listener.Address)
	}

	log.Info().Msgf("Listening on %s", listener.Addr())
	log.Info().Msgf("Brand name: %s", s.cfg.Brand)
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled. Each connection is handled on its own goroutine.
// Serve closes listener and waits for all handlers before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var handlers errgroup.Group
	if s.cfg.Listener.MaxConnections > 0 {
		handlers.SetLimit(s.cfg.Listener.MaxConnections)
	}

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Warn().Err(err).Msg("Accept timed out; retrying")
				continue
			}

			listener.Close()
			handlers.Wait()
			return eris.Wrap(err, "failed to accept connection")
		}

		started := handlers.TryGo(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
		if !started {
			log.Warn().
				Stringer("remote", conn.RemoteAddr()).
				Int("limit", s.cfg.Listener.MaxConnections).
				Msg("Connection limit reached; dropping connection")
			conn.Close()
		}
	}

	handlers.Wait()
	log.Info().Msg("Server stopped")
	return nil
}
