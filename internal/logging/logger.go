package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds a JSON logger tagged with component. APP_ENV=dev switches
// to human-readable console output.
func NewLogger(level, component string) zerolog.Logger {
	return newLogger(os.Stdout, strings.ToLower(os.Getenv("APP_ENV")) == "dev", level, component)
}

func newLogger(out io.Writer, console bool, level, component string) zerolog.Logger {
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(levelFromString(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func levelFromString(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
