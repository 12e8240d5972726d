package db

import (
	"context"
	"fmt"
	"time"

	"github.com/j-veylop/antigravity-reset-agent/internal/models"
)

// InsertQuotaSnapshots records one sync's readings in a single transaction.
func (db *DB) InsertQuotaSnapshots(snaps []models.QuotaSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(context.Background(), `
		INSERT INTO quota_snapshots (created_at, email, model_id, model_name, percentage)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for i := range snaps {
		s := &snaps[i]
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if _, err := stmt.ExecContext(context.Background(),
			formatTimestamp(s.CreatedAt), s.Email, s.ModelID, s.ModelName, s.Percentage,
		); err != nil {
			return fmt.Errorf("failed to insert quota snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit quota snapshots: %w", err)
	}
	return nil
}

// QuotaHistory returns snapshots taken at or after since, grouped by account
// and model and oldest first within each group.
func (db *DB) QuotaHistory(since time.Time) ([]models.QuotaSnapshot, error) {
	query := `
		SELECT created_at, email, model_id, model_name, percentage
		FROM quota_snapshots
		WHERE created_at >= ?
		ORDER BY email, model_id, created_at, id
	`

	rows, err := db.QueryContext(context.Background(), query, formatTimestamp(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query quota history: %w", err)
	}
	defer closeRows(rows)

	var out []models.QuotaSnapshot
	for rows.Next() {
		var s models.QuotaSnapshot
		var createdAt string
		if err := rows.Scan(&createdAt, &s.Email, &s.ModelID, &s.ModelName, &s.Percentage); err != nil {
			return nil, fmt.Errorf("failed to scan quota snapshot: %w", err)
		}
		s.CreatedAt = parseTimestamp(createdAt)
		out = append(out, s)
	}

	return out, rows.Err()
}

// PruneQuotaSnapshots deletes snapshots taken before olderThan.
func (db *DB) PruneQuotaSnapshots(olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(context.Background(),
		"DELETE FROM quota_snapshots WHERE created_at < ?", formatTimestamp(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune quota snapshots: %w", err)
	}
	return result.RowsAffected()
}
