// Package logger provides a logrus-backed structured logger shared by the
// controller and the agent daemon.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kitt-bench/controller/internal/config"
)

// Logger wraps logrus.Logger so call sites use one logging surface
// regardless of which component constructed it.
type Logger struct {
	*logrus.Logger
}

// New creates a logger configured from cfg. When Output is "file" it writes
// to stdout and appends to <home>/logs/<prefix>.log (prefix defaults to
// "kitt"); the file is not rotated or size-limited.
func New(cfg config.LoggingConfig, home, prefix string) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		if prefix == "" {
			prefix = "kitt"
		}
		logDir := filepath.Join(home, "logs")
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Errorf("create log directory: %v", err)
			log.SetOutput(os.Stdout)
			break
		}
		logPath := filepath.Join(logDir, prefix+".log")
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Errorf("open log file: %v", err)
			log.SetOutput(os.Stdout)
			break
		}
		log.SetOutput(io.MultiWriter(os.Stdout, file))
	default:
		log.SetOutput(os.Stdout)
	}

	return &Logger{Logger: log}
}

// NewDefault returns a text/stdout logger for component, useful in tests and
// one-off CLI invocations that don't carry a full config.
func NewDefault(component string) *Logger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	return &Logger{Logger: log}
}

// WithField returns a new log entry with a field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
