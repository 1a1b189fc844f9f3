// Package logger configures the process-wide structured logger.
//
// Components log through an entry tagged with their name, which plays the
// role of the "[match]" / "[booking]" prefixes of plain log lines:
//
//	log := logger.WithComponent("dispatch")
//	log.WithField("ride_id", id).Info("ride accepted")
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config holds logger settings.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

var base = logrus.New()

// Init applies cfg to the shared logger. Safe to call once at startup.
func Init(cfg Config) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stdout)
	}
}

// L returns the shared logger.
func L() *logrus.Logger {
	return base
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(name string) *logrus.Entry {
	return base.WithField("component", name)
}
