package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. Console output is only enabled in
// development; everything else emits JSON for log collectors.
func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	l := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if os.Getenv("ENV") == "development" {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return l.Level(zerolog.DebugLevel)
	}

	return l.Level(zerolog.InfoLevel)
}
