package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/forecast"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

func TestEventServiceRecord(t *testing.T) {
	l := ledger.NewMemoryLedger()
	svc := NewEventService(l)
	ctx := context.Background()

	events, err := svc.Record(ctx, []*domain.InventoryEvent{{
		Time:        calculatedAt,
		SKUID:       "SKU-1",
		WarehouseID: "WH-1",
		Type:        domain.EventShipment,
		Quantity:    decimal.NewFromInt(12),
	}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)

	_, err = svc.Record(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Record(ctx, []*domain.InventoryEvent{events[0]})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	got, err := l.Fetch(ctx, domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}, domain.EventShipment, domain.TimeWindow{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestForecastServiceUsesClockForHorizon(t *testing.T) {
	store := seededForecasts(t)
	now := calculatedAt.AddDate(0, 0, 8)
	svc := NewForecastService(store, func() time.Time { return now })

	run, err := svc.Current(context.Background(), "SKU-1")
	require.NoError(t, err)
	require.Len(t, run.Points, 1)
	assert.Equal(t, domain.StartOfDay(calculatedAt).AddDate(0, 0, 14), run.Points[0].ForecastDate)

	runs, err := svc.Runs(context.Background(), "SKU-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Current)
}

func seededForecasts(t *testing.T) *forecast.MemoryStore {
	store := forecast.NewMemoryStore()
	start := domain.StartOfDay(calculatedAt)
	run := &domain.ForecastRun{SKUID: "SKU-1", ModelTrainedAt: calculatedAt}
	for i := 0; i < 3; i++ {
		run.Points = append(run.Points, domain.ForecastPoint{
			ForecastDate: start.AddDate(0, 0, 7*i), YHat: 10, YHatLower: 8, YHatUpper: 12, MAPE: 0.05, IntervalWidth: 0.95,
		})
	}
	require.NoError(t, NewForecastService(store, nil).Append(context.Background(), run))
	return store
}
