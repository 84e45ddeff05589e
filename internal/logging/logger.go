package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Logger is the interface for logging
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Init configures the process-wide logger. format is "text" (default) or "json".
func Init(level, format string) {
	log.SetOutput(os.Stdout)
	log.SetFormatter(formatter(format))
	// default info
	l, err := log.ParseLevel(level)
	if err != nil {
		l = log.InfoLevel
	}
	log.SetLevel(l)
}

func formatter(format string) log.Formatter {
	if strings.EqualFold(format, "json") {
		return &log.JSONFormatter{}
	}
	return &log.TextFormatter{FullTimestamp: true}
}

func L() *log.Logger { return log.StandardLogger() }

// WithComponent returns the standard logger tagged with a component field.
func WithComponent(name string) Logger {
	return log.StandardLogger().WithField("component", name)
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}
