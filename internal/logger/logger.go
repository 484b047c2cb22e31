package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var zlog = zerolog.New(os.Stdout).With().Timestamp().Logger()

func init() {
	zerolog.DefaultContextLogger = &zlog
}

// Init configures the process logger. Development gets a console writer,
// everything else JSON lines on stdout.
func Init(env, service string) {
	var w io.Writer = os.Stdout
	if env == "development" || env == "dev" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zlog = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Get returns the process logger.
func Get() *zerolog.Logger {
	return &zlog
}

// FromContext returns the logger attached with zerolog's Logger.WithContext,
// falling back to the process logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &zlog
	}
	return zerolog.Ctx(ctx)
}
