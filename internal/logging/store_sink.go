package logging

import (
	"context"
	"database/sql"
	"time"

	"github.com/sirupsen/logrus"
)

// StoreSink persists every Log row (timestamp_ms, level, process, module,
// message) to SQL and forwards the entries whose level is in pushLevel to
// the operator push channel. It does not write to stdout itself, and
// stdoutLevel is stored but not consulted by this hook. It is installed as a
// logrus.Hook so every call to the process
// logger goes through one place, matching the single `log(level, module,
// message)` method every component calls in the original state container.
type StoreSink struct {
	db          *sql.DB
	process     string
	stdoutLevel LevelSet
	pushLevel   LevelSet
	onPush      func(level, module, message string)
}

// NewStoreSink builds a sink bound to a process name (e.g. "reducer",
// "worker#3").
func NewStoreSink(db *sql.DB, process string, stdoutLevel, pushLevel LevelSet, onPush func(level, module, message string)) *StoreSink {
	return &StoreSink{db: db, process: process, stdoutLevel: stdoutLevel, pushLevel: pushLevel, onPush: onPush}
}

// Levels implements logrus.Hook.
func (s *StoreSink) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook: it writes the Log row for every entry when a
// database is attached, whatever its level, and forwards to the operator
// push channel when pushLevel allows the entry's level. Writing to stdout is
// left to logrus's own handler.
func (s *StoreSink) Fire(entry *logrus.Entry) error {
	module, _ := entry.Data["module"].(string)
	if module == "" {
		module = "app"
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, _ = s.db.ExecContext(ctx,
			`INSERT INTO log (timestamp_ms, level, process, module, message) VALUES ($1, $2, $3, $4, $5)`,
			entry.Time.UnixMilli(), entry.Level.String(), s.process, module, entry.Message)
	}

	if s.onPush != nil && s.pushLevel.Allows(entry.Level) {
		s.onPush(entry.Level.String(), module, entry.Message)
	}

	return nil
}
