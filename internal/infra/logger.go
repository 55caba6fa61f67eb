package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger for a process. The api and worker
// binaries share log storage, so every line carries a component field to
// tell dispatcher and reaper output apart from request handling.
func NewLogger(appEnv, component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases zerolog.Logger so packages outside infra can name the
// logging contract without importing the module directly.
type Logger = zerolog.Logger
