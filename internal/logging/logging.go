// Package logging configures the gateway's process-wide structured
// logger. Messages keep the teacher's emoji-prefixed convention so the
// operational texture of the original service is preserved even though
// the underlying writer is now structured.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. In development (APP_ENV != "production")
// it writes human-readable console output; otherwise plain JSON lines
// suitable for a log aggregator.
func New(appName, appEnv string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writer = os.Stdout
	var logger zerolog.Logger
	if appEnv == "production" {
		logger = zerolog.New(writer)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"})
	}
	return logger.With().
		Timestamp().
		Str("service", appName).
		Logger()
}
