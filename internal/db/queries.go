package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
)

// InsertNotification records a delivered notification.
func (db *DB) InsertNotification(n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, created_at, title, message, category)
		VALUES (?, ?, ?, ?, ?)
	`

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
		n.CreatedAt = createdAt
	}

	_, err := db.ExecContext(context.Background(), query,
		n.ID,
		formatTimestamp(createdAt),
		n.Title,
		n.Message,
		n.Category,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// RecentNotifications returns the newest notifications first.
func (db *DB) RecentNotifications(limit int) ([]models.Notification, error) {
	query := `
		SELECT id, created_at, title, message, category
		FROM notifications
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(context.Background(), query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer closeRows(rows)

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var createdAt string
		if err := rows.Scan(&n.ID, &createdAt, &n.Title, &n.Message, &n.Category); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.CreatedAt = parseTimestamp(createdAt)
		out = append(out, n)
	}

	return out, rows.Err()
}

// PruneNotifications deletes notifications created before olderThan and
// returns how many were removed.
func (db *DB) PruneNotifications(olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(context.Background(),
		"DELETE FROM notifications WHERE created_at < ?", formatTimestamp(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	return result.RowsAffected()
}

// InsertPreheatAttempt records one preheat attempt.
func (db *DB) InsertPreheatAttempt(a *models.PreheatAttempt) error {
	query := `
		INSERT INTO preheat_attempts (created_at, email, model_id, attempt, success, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
		a.CreatedAt = createdAt
	}

	result, err := db.ExecContext(context.Background(), query,
		formatTimestamp(createdAt),
		a.Email,
		a.ModelID,
		a.Attempt,
		boolToInt(a.Success),
		nullString(a.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert preheat attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		a.ID = id
	}
	return nil
}

// RecentPreheatAttempts returns the newest attempts first.
func (db *DB) RecentPreheatAttempts(limit int) ([]models.PreheatAttempt, error) {
	query := `
		SELECT id, created_at, email, model_id, attempt, success, error
		FROM preheat_attempts
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(context.Background(), query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query preheat attempts: %w", err)
	}
	defer closeRows(rows)

	var out []models.PreheatAttempt
	for rows.Next() {
		var a models.PreheatAttempt
		var createdAt string
		var success int
		var errStr sql.NullString
		if err := rows.Scan(&a.ID, &createdAt, &a.Email, &a.ModelID, &a.Attempt, &success, &errStr); err != nil {
			return nil, fmt.Errorf("failed to scan preheat attempt: %w", err)
		}
		a.CreatedAt = parseTimestamp(createdAt)
		a.Success = success != 0
		a.Error = errStr.String
		out = append(out, a)
	}

	return out, rows.Err()
}

const timestampLayout = "2006-01-02 15:04:05"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp accepts the stored layout and the RFC 3339 form the
// driver may hand back for DATETIME columns.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{timestampLayout, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.Error("failed to close rows", "error", err)
	}
}

// nullString returns a sql.NullString from a string.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
