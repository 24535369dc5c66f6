// Package forecast stores versioned demand forecast runs and selects the
// current one per SKU.
package forecast

import (
	"context"
	"time"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

// Store keeps forecast runs per SKU. For a given SKU, model_trained_at
// strictly increases across appends; the run with the largest value is the
// current one.
type Store interface {
	// Append validates and stores run. It returns domain.ErrValidation for a
	// malformed run and domain.ErrOutOfOrder when run is not newer than the
	// current run of its SKU.
	Append(ctx context.Context, run *domain.ForecastRun) error
	// SelectCurrent returns the current run of skuID restricted to points
	// dated on or after now's UTC day, or domain.ErrNotFound.
	SelectCurrent(ctx context.Context, skuID string, now time.Time) (*domain.ForecastRun, error)
	// ListRuns returns the run headers of skuID, newest first.
	ListRuns(ctx context.Context, skuID string) ([]domain.ForecastRunSummary, error)
}

// BackendType selects a Store implementation
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendPostgres BackendType = "postgres"
)

func cloneRun(run *domain.ForecastRun) *domain.ForecastRun {
	out := *run
	out.Points = make([]domain.ForecastPoint, len(run.Points))
	copy(out.Points, run.Points)
	return &out
}
