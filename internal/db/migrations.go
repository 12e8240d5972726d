package db

import (
	"context"
	"fmt"
)

// NormalizeTimestamps rewrites created_at values that were stored in Go's
// time.Time String format ("2006-01-02 15:04:05 +0000 UTC") to the plain
// layout SQLite's date functions and ordering expect.
func (db *DB) NormalizeTimestamps() error {
	queries := []string{
		`UPDATE notifications
		 SET created_at = SUBSTR(created_at, 1, 19)
		 WHERE length(created_at) > 19 AND created_at LIKE '% UTC'`,

		`UPDATE preheat_attempts
		 SET created_at = SUBSTR(created_at, 1, 19)
		 WHERE length(created_at) > 19 AND created_at LIKE '% UTC'`,

		`UPDATE quota_snapshots
		 SET created_at = SUBSTR(created_at, 1, 19)
		 WHERE length(created_at) > 19 AND created_at LIKE '% UTC'`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(context.Background(), query); err != nil {
			return fmt.Errorf("failed to normalize timestamps: %w", err)
		}
	}

	return nil
}
