// Package logging provides the engine's structured logger: zerolog
// configured with a component field, console-pretty in development
// and JSON in production, following the pattern in
// RedClaus-cortex/apps/cortex-avatar/internal/logging.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Pretty controls whether New emits human-readable console output
// (development) instead of newline-delimited JSON (production).
var Pretty = false

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// New returns a logger tagged with component, writing to stderr.
func New(component string) zerolog.Logger {
	var w = os.Stderr
	base := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	if Pretty {
		base = base.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
	}
	return base
}
