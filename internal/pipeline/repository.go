package pipeline

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository persists aggregator runs to the aggregator_runs table
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new run repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordRun inserts the run or updates it when the id is already present.
func (r *Repository) RecordRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO aggregator_runs (
			id, status, started_at, completed_at,
			calculated_at, key_count, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    completed_at = EXCLUDED.completed_at,
		    key_count = EXCLUDED.key_count,
		    error_message = EXCLUDED.error_message
	`

	_, err := r.db.ExecContext(
		ctx, query,
		run.ID, run.Status, run.StartedAt, run.CompletedAt,
		run.CalculatedAt, run.KeyCount, nullString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("record aggregator run %s: %w", run.ID, err)
	}
	return nil
}

// ListRecentRuns returns the latest runs, newest first
func (r *Repository) ListRecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, status, started_at, completed_at,
		       calculated_at, key_count, COALESCE(error_message, '')
		FROM aggregator_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list aggregator runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		var completed sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.Status, &run.StartedAt, &completed,
			&run.CalculatedAt, &run.KeyCount, &run.ErrorMessage,
		); err != nil {
			return nil, err
		}
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
