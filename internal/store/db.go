// Package store holds the SQL schema, embedded migrations, and repository
// implementations backing the entities of §3: triggers, game policies,
// announcements, challenges, users, profiles, submissions, feedback, and the
// log. Only the reducer writes; workers open the same pool read-only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Open establishes a PostgreSQL connection pool using the provided DSN and
// verifies connectivity with a ping. The returned *sql.DB must be closed by
// the caller. Pool sizing matches §5's "SQL connections are pooled per
// process with LIFO reuse and liveness pings": a small bounded pool per
// process rather than one connection per logical operation.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
