package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return &DB{Client: db}, db.PingContext(ctx)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Applied at startup, one statement per Exec. The unique index on
// (teacher_id, day) is the conditional-create primitive that keeps one
// attendance session per teacher per day even when two submissions race.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL DEFAULT '',
		role        TEXT,
		roll_no     TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_sessions (
		id          TEXT PRIMARY KEY,
		teacher_id  TEXT NOT NULL,
		day         DATE NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_sessions_teacher_day
		ON attendance_sessions (teacher_id, day)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		session_id    TEXT NOT NULL REFERENCES attendance_sessions(id),
		position      INT NOT NULL,
		student_id    TEXT NOT NULL,
		student_name  TEXT NOT NULL DEFAULT '',
		student_email TEXT NOT NULL DEFAULT '',
		roll_no       TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		PRIMARY KEY (session_id, position)
	)`,
}

// EnsureSchema creates tables and indexes if they do not exist yet.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
