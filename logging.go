package emulator

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the base structured logger. Component code derives
// children with With().Str("component", ...).
func NewLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
