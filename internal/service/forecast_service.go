package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/forecast"
)

type ForecastService struct {
	store forecast.Store
	clock func() time.Time
}

func NewForecastService(store forecast.Store, clock func() time.Time) *ForecastService {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &ForecastService{store: store, clock: clock}
}

// Append stores a new training run for its SKU.
func (s *ForecastService) Append(ctx context.Context, run *domain.ForecastRun) error {
	if err := s.store.Append(ctx, run); err != nil {
		return err
	}
	log.Info().
		Str("sku_id", run.SKUID).
		Time("model_trained_at", run.ModelTrainedAt).
		Int("points", len(run.Points)).
		Msg("forecast: run appended")
	return nil
}

// Current returns the current run of skuID from today onward.
func (s *ForecastService) Current(ctx context.Context, skuID string) (*domain.ForecastRun, error) {
	return s.store.SelectCurrent(ctx, skuID, s.clock())
}

// Runs returns the training history of skuID, newest first.
func (s *ForecastService) Runs(ctx context.Context, skuID string) ([]domain.ForecastRunSummary, error) {
	return s.store.ListRuns(ctx, skuID)
}
