// Package logging provides the plugin's diagnostic loggers.
//
// Diagnostics never go to the invoking user's terminal unless debug is
// requested: the plugin runs inside the broker and shares its tty.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "SUDO_PAIR_LOG_LEVEL"

// Config selects level and sink.
type Config struct {
	Level string
	File  string
}

var (
	mu      sync.Mutex
	base    = newBase()
	loggers = make(map[string]*logrus.Entry)
	sink    io.Closer
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.WarnLevel)
	return l
}

// Configure applies cfg to every logger. It may be called again when a
// new invocation opens.
func Configure(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	levelStr := cfg.Level
	if v := os.Getenv(EnvLevel); v != "" {
		levelStr = v
	}
	level := logrus.WarnLevel
	if levelStr != "" {
		parsed, err := logrus.ParseLevel(levelStr)
		if err != nil {
			return err
		}
		level = parsed
	}
	base.SetLevel(level)

	if sink != nil {
		sink.Close()
		sink = nil
	}

	switch {
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			base.SetOutput(io.Discard)
			return err
		}
		sink = f
		base.SetOutput(f)
		base.SetFormatter(&logrus.JSONFormatter{})
	case level >= logrus.DebugLevel:
		base.SetOutput(os.Stderr)
		if isatty.IsTerminal(os.Stderr.Fd()) {
			base.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
		} else {
			base.SetFormatter(&logrus.JSONFormatter{})
		}
	default:
		base.SetOutput(io.Discard)
	}
	return nil
}

// NewLogger returns the logger for a component, creating it on first use.
func NewLogger(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[component]; ok {
		return l
	}
	l := base.WithField("component", component)
	loggers[component] = l
	return l
}

// SetOutput redirects all loggers. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}
