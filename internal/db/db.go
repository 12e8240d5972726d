// Package db keeps the notification, preheat and quota history in SQLite.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection with application-specific methods.
type DB struct {
	*sql.DB
	path string
}

// New creates a new database connection and initializes the schema.
func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:   sqlDB,
		path: path,
	}

	if err := db.configure(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := db.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := db.NormalizeTimestamps(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to normalize timestamps: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// configure sets up database pragmas.
func (db *DB) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (db *DB) createSchema() error {
	if err := db.createNotificationsTable(); err != nil {
		return err
	}
	if err := db.createPreheatAttemptsTable(); err != nil {
		return err
	}
	return db.createQuotaSnapshotsTable()
}

func (db *DB) createNotificationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'info'
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);
	`
	_, err := db.ExecContext(context.Background(), query)
	return err
}

func (db *DB) createPreheatAttemptsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS preheat_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		email TEXT NOT NULL,
		model_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_preheat_attempts_created ON preheat_attempts(created_at);
	CREATE INDEX IF NOT EXISTS idx_preheat_attempts_email ON preheat_attempts(email, model_id);
	`
	_, err := db.ExecContext(context.Background(), query)
	return err
}

func (db *DB) createQuotaSnapshotsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS quota_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		email TEXT NOT NULL,
		model_id TEXT NOT NULL,
		model_name TEXT NOT NULL DEFAULT '',
		percentage REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quota_snapshots_created ON quota_snapshots(created_at);
	CREATE INDEX IF NOT EXISTS idx_quota_snapshots_email ON quota_snapshots(email, model_id);
	`
	_, err := db.ExecContext(context.Background(), query)
	return err
}

// Close closes the database connection gracefully.
func (db *DB) Close() error {
	// Checkpoint WAL before closing
	_, _ = db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return db.DB.Close()
}

// Vacuum performs database maintenance to reclaim space.
func (db *DB) Vacuum() error {
	_, err := db.ExecContext(context.Background(), "VACUUM")
	return err
}
