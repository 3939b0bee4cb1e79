// Package obslog configures the zerolog logger used by the hub and demo
// CLIs. The CLIs obtain a component-scoped logger via New and pass the
// resulting zerolog.Logger into the hub and node packages, which log
// through it directly.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// New returns a logger for component, writing to w (os.Stdout if nil) at
// debug level when debug is true, info level otherwise.
func New(component string, debug bool, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("component", component).
		Logger()
}
