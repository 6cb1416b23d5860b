// Package logging sets up the structured logger shared by every core
// component. All components take a logrus.FieldLogger rather than reaching
// for a package-level global, so tests can inject a silent logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the default logger: text formatter, timestamps, level parsed
// from the UMON_LOGLEVEL environment variable (falls back to info).
func New() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stderr)
	l.SetLevel(levelFromEnv())
	return l
}

// Discard returns a logger that drops everything, for tests that don't
// want log noise but still need a logrus.FieldLogger to satisfy an API.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func levelFromEnv() logrus.Level {
	lvl, err := logrus.ParseLevel(os.Getenv("UMON_LOGLEVEL"))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
