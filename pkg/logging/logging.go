// Package logging bridges kestrel's internal logging calls to logrus.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used throughout kestrel. It embeds
// logrus.FieldLogger so any *logrus.Logger or *logrus.Entry satisfies it
// directly, and adds Component for per-subsystem tagging.
type Logger interface {
	logrus.FieldLogger
	// Component returns a derived Logger tagged with a "component" field,
	// so log lines from the reactor, task runtime, and router are
	// distinguishable without each call site repeating the field.
	Component(name string) Logger
}

type entryLogger struct {
	*logrus.Entry
}

// New returns a Logger backed by a fresh *logrus.Logger writing to w at
// the given level.
func New(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	return &entryLogger{Entry: logrus.NewEntry(l)}
}

// Wrap adapts an existing logrus.FieldLogger (typically *logrus.Entry or
// *logrus.Logger) into a Logger.
func Wrap(fl logrus.FieldLogger) Logger {
	switch v := fl.(type) {
	case *logrus.Entry:
		return &entryLogger{Entry: v}
	case *logrus.Logger:
		return &entryLogger{Entry: logrus.NewEntry(v)}
	default:
		// FieldLogger doesn't expose enough to derive Component cheaply;
		// fall back to a fresh entry on logrus's standard logger. fl's
		// fields and output are not carried over.
		e := logrus.NewEntry(logrus.StandardLogger())
		return &entryLogger{Entry: e}
	}
}

// Discard returns a Logger that drops all output, for use in tests.
func Discard() Logger {
	return New(io.Discard, logrus.PanicLevel)
}

func (e *entryLogger) Component(name string) Logger {
	return &entryLogger{Entry: e.Entry.WithField("component", name)}
}
