// Package obslog builds the zerolog.Logger shared by every long-running
// concord component. There is no global logger: each component takes a
// logger at construction, scoped with its own component name.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a base logger at the given level ("debug", "info", "warn",
// "error"; unrecognized values fall back to "info"). Output is a
// console-pretty writer when w is a terminal-like file, JSON otherwise.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	out := w
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// Component returns a child logger scoped to a named component, e.g.
// "orchestrator" or "trainer:value-fn".
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
