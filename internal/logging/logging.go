// Package logging configures the logrus logger shared by the server and the
// console commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"evalgo.org/nimbus/internal/config"
)

// Ctx is a set of structured fields attached to a log entry.
type Ctx map[string]any

// New builds a logger from the logging section of the configuration.
// Output goes to stderr; use NewWithWriter to redirect it.
func New(cfg config.LoggingConfig) (*logrus.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(w)

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(cfg.Format) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return logger, nil
}

// Discard returns a logger that drops everything. Used as the default when
// a component is built without a logger.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// AddContext returns a new entry with the context added.
func AddContext(logger logrus.FieldLogger, ctx Ctx) *logrus.Entry {
	return logger.WithFields(logrus.Fields(ctx))
}
