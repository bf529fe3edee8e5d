package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rolling-glass/looking-glass/pkg/config"
	"github.com/rolling-glass/looking-glass/pkg/connlog"
	"github.com/rolling-glass/looking-glass/pkg/server"
	"github.com/rolling-glass/looking-glass/pkg/storage"
)

const (
	// nanoid.New() generates IDs of this length
	connIDLength = 21
	timeFormat   = "2006-01-02T15:04:05.000Z07:00"
)

// set through -ldflags by tasks.star
var version = "dev"

func getConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	writer := zerolog.ConsoleWriter{Out: out}
	writer.TimeFormat = timeFormat
	writer.FieldsExclude = []string{connlog.IDField}
	writer.PartsOrder = []string{
		zerolog.TimestampFieldName,
		connlog.IDField,
		zerolog.LevelFieldName,
		zerolog.MessageFieldName,
	}

	writer.FormatFieldValue = func(value interface{}) string {
		if value == nil {
			return strings.Repeat(" ", connIDLength)
		}

		str, ok := value.(string)
		if ok {
			if len(str) == connIDLength && !strings.ContainsAny(str, " .:") {
				// color connection IDs in cyan. We have to guess based on the field content because we can't get
				// the current field name
				return fmt.Sprintf("\x1b[%dm%s\x1b[0m", 36, value)
			} else if strings.Contains(str, "\\n") && strings.Contains(str, "\\t") {
				// unquote values that contain line breaks and tabs because they're most likely stack traces
				str, err := strconv.Unquote(str)
				if err == nil {
					return str
				}
			}
		}

		return fmt.Sprintf("%s", value)
	}
	return writer
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = timeFormat
	if cfg.Log.JSON {
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			return eris.ToJSON(err, true)
		}
	} else {
		log.Logger = log.Output(getConsoleWriter(os.Stderr))
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			return eris.ToString(err, true)
		}
	}

	zerolog.SetGlobalLevel(cfg.LogLevel())
	if cfg.Log.File != "" {
		var logFile io.Writer
		logFile, err := os.Create(cfg.Log.File)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open log file")
		}

		if !cfg.Log.JSON {
			writer := getConsoleWriter(logFile)
			writer.NoColor = true
			logFile = writer
		}

		log.Logger = log.Output(logFile)
	}

	// the global logger already adds timestamps
	log.Logger = log.Logger.With().Caller().Stack().Logger()
	log.Debug().Msg("Debug logging enabled")
}

func main() {
	cfg, loader := config.Loader()

	if err := loader.Load(); err != nil {
		if strings.Contains(err.Error(), "help requested") {
			os.Exit(0)
		}

		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse config")
	}

	setupLogging(cfg)
	log.Info().Str("version", version).Msg("Starting glass")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.Option
	if cfg.Store.Path != "" {
		store, err := storage.Open(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open visit store")
		}
		defer store.Close()

		log.Info().Str("path", cfg.Store.Path).Msg("Recording visits")
		opts = append(opts, server.WithVisitRecorder(store))
	}

	err := server.New(cfg, opts...).ListenAndServe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
