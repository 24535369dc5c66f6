package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/forecast"
)

// ForecastRepository stores forecast runs in forecast_runs/forecast_points.
// Appends for one SKU are serialized with a transaction-scoped advisory lock.
type ForecastRepository struct {
	db *DB
}

func NewForecastRepository(db *DB) *ForecastRepository {
	return &ForecastRepository{db: db}
}

var _ forecast.Store = (*ForecastRepository)(nil)

func (r *ForecastRepository) Append(ctx context.Context, run *domain.ForecastRun) error {
	stored := *run
	stored.Points = append([]domain.ForecastPoint(nil), run.Points...)
	stored.Normalize()
	if err := stored.Validate(); err != nil {
		return err
	}
	summary := stored.Summary()

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, stored.SKUID); err != nil {
			return fmt.Errorf("failed to lock sku %s: %w", stored.SKUID, err)
		}

		var latest sql.NullTime
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(model_trained_at) FROM forecast_runs WHERE sku_id = $1`, stored.SKUID,
		).Scan(&latest); err != nil {
			return fmt.Errorf("failed to read latest run: %w", err)
		}
		if latest.Valid && !stored.ModelTrainedAt.After(latest.Time) {
			return fmt.Errorf("%w: run trained at %s is not newer than %s for sku %s",
				domain.ErrOutOfOrder, stored.ModelTrainedAt.Format(time.RFC3339Nano),
				latest.Time.UTC().Format(time.RFC3339Nano), stored.SKUID)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO forecast_runs (
				sku_id, model_trained_at, point_count, horizon_start, horizon_end, mean_mape
			) VALUES ($1, $2, $3, $4, $5, $6)
		`, summary.SKUID, summary.ModelTrainedAt, summary.PointCount,
			summary.HorizonStart, summary.HorizonEnd, summary.MeanMAPE)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: run trained at %s already stored", domain.ErrOutOfOrder, stored.ModelTrainedAt)
		}
		if err != nil {
			return fmt.Errorf("failed to insert forecast run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO forecast_points (
				sku_id, model_trained_at, forecast_date,
				yhat, yhat_lower, yhat_upper, mape, interval_width
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range stored.Points {
			if _, err := stmt.ExecContext(ctx,
				stored.SKUID, stored.ModelTrainedAt, p.ForecastDate,
				p.YHat, p.YHatLower, p.YHatUpper, p.MAPE, p.IntervalWidth,
			); err != nil {
				return fmt.Errorf("failed to insert forecast point: %w", err)
			}
		}
		return nil
	})
}

func (r *ForecastRepository) SelectCurrent(ctx context.Context, skuID string, now time.Time) (*domain.ForecastRun, error) {
	skuID = domain.NormalizeSKU(skuID)
	run := &domain.ForecastRun{SKUID: skuID}
	err := r.db.QueryRowContext(ctx, `
		SELECT model_trained_at
		FROM forecast_runs
		WHERE sku_id = $1
		ORDER BY model_trained_at DESC
		LIMIT 1
	`, skuID).Scan(&run.ModelTrainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no forecast for sku %s", domain.ErrNotFound, skuID)
	}
	if err != nil {
		return nil, fmt.Errorf("select current forecast for %s: %w", skuID, err)
	}

	run.Points = []domain.ForecastPoint{}
	if err := r.db.SelectContext(ctx, &run.Points, `
		SELECT forecast_date, yhat, yhat_lower, yhat_upper, mape, interval_width
		FROM forecast_points
		WHERE sku_id = $1 AND model_trained_at = $2 AND forecast_date >= $3
		ORDER BY forecast_date ASC
	`, skuID, run.ModelTrainedAt, domain.StartOfDay(now)); err != nil {
		return nil, fmt.Errorf("select forecast points for %s: %w", skuID, err)
	}

	run.Normalize()
	return run, nil
}

func (r *ForecastRepository) ListRuns(ctx context.Context, skuID string) ([]domain.ForecastRunSummary, error) {
	skuID = domain.NormalizeSKU(skuID)
	runs := []domain.ForecastRunSummary{}
	if err := r.db.SelectContext(ctx, &runs, `
		SELECT sku_id, model_trained_at, point_count, horizon_start, horizon_end, mean_mape
		FROM forecast_runs
		WHERE sku_id = $1
		ORDER BY model_trained_at DESC
	`, skuID); err != nil {
		return nil, fmt.Errorf("list forecast runs for %s: %w", skuID, err)
	}

	for i := range runs {
		runs[i].ModelTrainedAt = runs[i].ModelTrainedAt.UTC()
		runs[i].Current = i == 0
	}
	return runs, nil
}
