package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/repository"
)

// SnapshotRepository persists published snapshots so a restarted server can
// serve the last known numbers before its first run completes.
type SnapshotRepository struct {
	db     *DB
	retain int
}

// NewSnapshotRepository keeps the newest retain snapshots (at least one).
func NewSnapshotRepository(db *DB, retain int) *SnapshotRepository {
	if retain < 1 {
		retain = 1
	}
	return &SnapshotRepository{db: db, retain: retain}
}

var _ repository.SnapshotRepository = (*SnapshotRepository)(nil)

// OnSnapshot saves every published snapshot.
func (r *SnapshotRepository) OnSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return r.Save(ctx, snap)
}

// Save stores snap and prunes snapshots beyond the retention. Saving the same
// calculated_at twice is a no-op.
func (r *SnapshotRepository) Save(ctx context.Context, snap *domain.Snapshot) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO metrics_snapshots (calculated_at, row_count) VALUES ($1, $2)
			 ON CONFLICT (calculated_at) DO NOTHING`,
			snap.CalculatedAt, snap.Len(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot header: %w", err)
		}
		// already saved
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO metrics_snapshot_rows (
				calculated_at, sku_id, warehouse_id, current_inventory,
				shipments_30d, depletions_30d, shipments_90d, depletions_90d,
				a30_ratio, a90_ratio, doh_t30, doh_t90
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, m := range snap.Rows() {
			if _, err := stmt.ExecContext(ctx,
				snap.CalculatedAt, m.SKUID, m.WarehouseID, m.CurrentInventory,
				m.Shipments30d, m.Depletions30d, m.Shipments90d, m.Depletions90d,
				m.A30Ratio, m.A90Ratio, m.DOHT30, m.DOHT90,
			); err != nil {
				return fmt.Errorf("failed to insert snapshot row %s: %w", m.Key(), err)
			}
		}

		// rows go with their header through ON DELETE CASCADE
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM metrics_snapshots
			WHERE calculated_at NOT IN (
				SELECT calculated_at FROM metrics_snapshots
				ORDER BY calculated_at DESC
				LIMIT $1
			)
		`, r.retain); err != nil {
			return fmt.Errorf("failed to prune snapshots: %w", err)
		}
		return nil
	})
}

// LoadLatest returns the newest persisted snapshot or domain.ErrNoSnapshot.
func (r *SnapshotRepository) LoadLatest(ctx context.Context) (*domain.Snapshot, error) {
	var header struct {
		CalculatedAt sql.NullTime `db:"calculated_at"`
	}
	err := r.db.GetContext(ctx, &header,
		`SELECT calculated_at FROM metrics_snapshots ORDER BY calculated_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}

	rows := []domain.Metrics{}
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT sku_id, warehouse_id, current_inventory,
		       shipments_30d, depletions_30d, shipments_90d, depletions_90d,
		       a30_ratio, a90_ratio, doh_t30, doh_t90, calculated_at
		FROM metrics_snapshot_rows
		WHERE calculated_at = $1
	`, header.CalculatedAt.Time); err != nil {
		return nil, fmt.Errorf("load snapshot rows: %w", err)
	}

	return domain.NewSnapshot(header.CalculatedAt.Time.UTC(), rows), nil
}
