package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Development gets a human-readable
// console writer at debug level; everything else logs structured JSON at the
// level given by LOG_LEVEL (default info).
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		level = parsed
	} else if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "sorastudio").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}
