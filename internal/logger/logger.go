package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

func init() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	Logger.SetLevel(logrus.InfoLevel)

	// LOG_LEVEL=debug etc. Config may override later via SetLevel.
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		_ = SetLevel(level)
	}
}

// SetLevel parses level case-insensitively and applies it to Logger.
// On a parse error the current level is kept.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return err
	}
	Logger.SetLevel(parsed)
	return nil
}

// WithComponent adds a component field to the logger
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// WithFile is WithComponent plus the backing file the entry is about.
func WithFile(component, path string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"component": component,
		"file":      path,
	})
}
