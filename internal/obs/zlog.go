package obs

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger returns the process-wide structured logger. Callers enrich it
// per request with .With().Str(...) rather than constructing a new sink.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
