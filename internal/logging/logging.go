// Package logging wraps github.com/joeycumines/logiface with the
// log/slog backend from github.com/joeycumines/logiface-slog, giving
// every other package a single injected *Logger instead of a
// package-level global — spec.md §9's "no process-wide globals" design
// note, applied to the ambient logging stack the distilled spec itself
// doesn't mention.
package logging

import (
	"io"
	"log/slog"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// Logger is the injected logging handle that dispatcher.NewConnection and
// netsvc.NewAcceptor take at construction.
type Logger = logiface.Logger[*islog.Event]

// Level re-exports logiface's level type so callers don't need to import
// logiface directly just to call New.
type Level = logiface.Level

// New builds a Logger that writes structured JSON lines to out at the
// given minimum level.
func New(out io.Writer, level Level) *Logger {
	handler := slog.NewJSONHandler(out, nil)
	return logiface.New[*islog.Event](
		islog.NewLogger(handler),
		logiface.WithLevel[*islog.Event](level),
	)
}

// Noop returns a Logger that discards everything, for tests and
// collaborators that don't care to observe log output.
func Noop() *Logger {
	return New(io.Discard, logiface.LevelDisabled)
}
