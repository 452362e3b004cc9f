package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

const syncAttemptsMigration = `
CREATE TABLE IF NOT EXISTS sync_attempts (
    id uuid PRIMARY KEY,
    protocol text NOT NULL,
    subject_id text NOT NULL DEFAULT '',
    email text NOT NULL DEFAULT '',
    role_id text NOT NULL DEFAULT '',
    role_name text NOT NULL DEFAULT '',
    is_admin boolean NOT NULL DEFAULT false,
    states text[] NOT NULL,
    final_state text NOT NULL,
    error_kind text NOT NULL DEFAULT '',
    error_message text NOT NULL DEFAULT '',
    started_at timestamptz NOT NULL,
    finished_at timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS sync_attempts_subject_idx
ON sync_attempts (subject_id, started_at DESC);

CREATE INDEX IF NOT EXISTS sync_attempts_failed_idx
ON sync_attempts (error_kind)
WHERE error_kind <> '';
`

// DB is the audit database handle.
type DB struct {
	*sql.DB
}

// Open connects to Postgres and checks the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &DB{DB: sqlDB}, nil
}

func RunSyncAttemptsMigration(ctx context.Context, db *DB) error {
	_, err := db.ExecContext(ctx, syncAttemptsMigration)
	return err
}
