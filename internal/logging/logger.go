// Package logging wraps the two logging idioms used across this repository:
// logrus for application/domain events (the Log store in §3, general
// informational and warning lines) and zerolog for transport-level
// diagnostics on the glitter wire protocol, where structured per-connection
// fields matter more than a line-oriented level stream.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls the application logger.
type Config struct {
	Level  string // one of logrus's level names; defaults to "info"
	Format string // "json" or "text"
	Output io.Writer
}

// New builds a logrus-backed *logrus.Logger for application/domain logging.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}

// LevelSet is a parsed STDOUT_LOG_LEVEL / DB_LOG_LEVEL / PUSH_LOG_LEVEL
// configuration value: a set of logrus level names that should also be
// routed to that sink, per §6's process configuration surface.
type LevelSet map[logrus.Level]bool

// ParseLevelSet parses a comma-separated list of level names (e.g.
// "warning,error,critical") into a LevelSet. Unknown names are ignored.
func ParseLevelSet(csv string) LevelSet {
	set := make(LevelSet)
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lvl, err := logrus.ParseLevel(part); err == nil {
			set[lvl] = true
		}
	}
	return set
}

// Allows reports whether a level is in the set.
func (s LevelSet) Allows(level logrus.Level) bool {
	return s[level]
}
