package rulestore

import (
	"context"
	"fmt"
)

// MaintenanceResult reports what a maintenance run did.
type MaintenanceResult struct {
	PrefsCleaned int64 `json:"prefs_cleaned"`
	SizeBefore   int64 `json:"size_before"`
	SizeAfter    int64 `json:"size_after"`
}

// Maintenance compacts the database: drops preference rows that carry only
// default values for hosts with no rules, checkpoints the WAL and vacuums.
func (s *Store) Maintenance(ctx context.Context) (MaintenanceResult, error) {
	var res MaintenanceResult

	before, err := s.fileSize(ctx)
	if err != nil {
		return res, err
	}
	res.SizeBefore = before

	del, err := s.DB.ExecContext(ctx, `
		DELETE FROM site_prefs
		WHERE always_apply = 1
		  AND host NOT IN (SELECT DISTINCT host FROM rules)`)
	if err != nil {
		return res, fmt.Errorf("rulestore: prune prefs: %w", err)
	}
	res.PrefsCleaned, _ = del.RowsAffected()

	if _, err := s.DB.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return res, fmt.Errorf("rulestore: wal checkpoint: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `VACUUM`); err != nil {
		return res, fmt.Errorf("rulestore: vacuum: %w", err)
	}

	after, err := s.fileSize(ctx)
	if err != nil {
		return res, err
	}
	res.SizeAfter = after
	return res, nil
}

func (s *Store) fileSize(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.DB.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("rulestore: page_count: %w", err)
	}
	if err := s.DB.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("rulestore: page_size: %w", err)
	}
	return pageCount * pageSize, nil
}
