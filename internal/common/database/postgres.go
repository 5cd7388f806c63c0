// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"followup-engine/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// GetDB returns the underlying *sql.DB
func (c *PostgresClient) GetDB() *sql.DB {
	return c.DB
}

// schema is applied with CREATE ... IF NOT EXISTS so Migrate can run on every
// start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id    TEXT PRIMARY KEY,
		email TEXT,
		phone TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS follow_ups (
		id                   TEXT PRIMARY KEY,
		user_id              TEXT        NOT NULL,
		subject              TEXT        NOT NULL,
		contact              JSONB,
		priority             TEXT        NOT NULL,
		due_date             TIMESTAMPTZ NOT NULL,
		time_zone            TEXT        NOT NULL DEFAULT 'UTC',
		status               TEXT        NOT NULL,
		notes                TEXT        NOT NULL DEFAULT '',
		key_points           JSONB       NOT NULL DEFAULT '[]',
		reminder_settings    JSONB       NOT NULL,
		completed_at         TIMESTAMPTZ,
		completion_notes     TEXT,
		dispatched_reminders JSONB       NOT NULL DEFAULT '[]',
		source               TEXT        NOT NULL DEFAULT '',
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL,
		version              BIGINT      NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_follow_ups_user_due ON follow_ups (user_id, due_date)`,
	`CREATE INDEX IF NOT EXISTS idx_follow_ups_open ON follow_ups (status) WHERE status IN ('pending', 'in-progress')`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id             TEXT PRIMARY KEY,
		follow_up_id   TEXT        NOT NULL,
		user_id        TEXT        NOT NULL,
		channel        TEXT        NOT NULL,
		fired_at       TIMESTAMPTZ NOT NULL,
		trigger_offset TEXT,
		escalated      BOOLEAN     NOT NULL DEFAULT FALSE,
		manual         BOOLEAN     NOT NULL DEFAULT FALSE,
		subject        TEXT        NOT NULL,
		body           TEXT        NOT NULL,
		read_at        TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, fired_at DESC)`,
}

// Migrate creates the follow-up tables when they do not exist.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
