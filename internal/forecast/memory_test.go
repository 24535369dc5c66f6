package forecast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

var (
	t0 = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.AddDate(0, 0, 7)
	t2 = t0.AddDate(0, 0, 14)
)

func makeRun(sku string, trained time.Time, points int) *domain.ForecastRun {
	run := &domain.ForecastRun{SKUID: sku, ModelTrainedAt: trained}
	for i := 0; i < points; i++ {
		run.Points = append(run.Points, domain.ForecastPoint{
			ForecastDate:  trained.AddDate(0, 0, 7*i),
			YHat:          float64(100 + i),
			YHatLower:     float64(80 + i),
			YHatUpper:     float64(120 + i),
			MAPE:          0.12,
			IntervalWidth: 0.8,
		})
	}
	return run
}

func TestMemoryStoreSelectsLatestRun(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Append(ctx, makeRun("SKU-1", t1, 26)))
	require.NoError(t, s.Append(ctx, makeRun("SKU-1", t2, 26)))

	got, err := s.SelectCurrent(ctx, "SKU-1", t2)
	require.NoError(t, err)
	assert.Equal(t, t2, got.ModelTrainedAt)
	assert.Len(t, got.Points, 26)

	err = s.Append(ctx, makeRun("SKU-1", t0, 26))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)
	err = s.Append(ctx, makeRun("SKU-1", t2, 3))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder, "equal timestamps are rejected")

	got, err = s.SelectCurrent(ctx, "SKU-1", t2)
	require.NoError(t, err)
	assert.Equal(t, t2, got.ModelTrainedAt)
}

func TestMemoryStoreHorizonCut(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, makeRun("SKU-1", t0, 10)))

	// 15:00 on the day of the third point keeps that point
	now := t0.AddDate(0, 0, 14).Add(15 * time.Hour)
	got, err := s.SelectCurrent(ctx, "SKU-1", now)
	require.NoError(t, err)
	require.Len(t, got.Points, 8)
	assert.Equal(t, t0.AddDate(0, 0, 14), got.Points[0].ForecastDate)

	// the stored run is untouched by the cut
	full, err := s.SelectCurrent(ctx, "SKU-1", t0)
	require.NoError(t, err)
	assert.Len(t, full.Points, 10)
}

func TestMemoryStoreNotFoundAndIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.SelectCurrent(ctx, "SKU-404", t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Append(ctx, makeRun("SKU-1", t2, 2)))
	// another SKU has its own ordering
	require.NoError(t, s.Append(ctx, makeRun("SKU-2", t0, 2)))

	run := makeRun("SKU-3", t1, 2)
	require.NoError(t, s.Append(ctx, run))
	run.Points[0].YHat = -1
	got, err := s.SelectCurrent(ctx, "SKU-3", t0)
	require.NoError(t, err)
	assert.Equal(t, float64(100), got.Points[0].YHat)
}

func TestMemoryStoreRejectsInvalidRun(t *testing.T) {
	s := NewMemoryStore()
	run := makeRun("SKU-1", t0, 2)
	run.Points[1].YHatLower = 500

	err := s.Append(context.Background(), run)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.SelectCurrent(context.Background(), "SKU-1", t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreListRuns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, makeRun("SKU-1", t0, 4)))
	require.NoError(t, s.Append(ctx, makeRun("SKU-1", t1, 6)))

	runs, err := s.ListRuns(ctx, "SKU-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, t1, runs[0].ModelTrainedAt)
	assert.True(t, runs[0].Current)
	assert.Equal(t, 6, runs[0].PointCount)
	assert.False(t, runs[1].Current)
	assert.InDelta(t, 0.12, runs[1].MeanMAPE, 1e-9)

	empty, err := s.ListRuns(ctx, "SKU-404")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreConcurrentAppendAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, makeRun("SKU-1", t0, 4)))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			// out-of-order appends lose, in-order ones win
			_ = s.Append(ctx, makeRun("SKU-1", t0.Add(time.Duration(i)*time.Hour), 4))
		}()
		go func() {
			defer wg.Done()
			run, err := s.SelectCurrent(ctx, "SKU-1", t0)
			if assert.NoError(t, err) {
				assert.Len(t, run.Points, 4)
			}
		}()
	}
	wg.Wait()

	runs, err := s.ListRuns(ctx, "SKU-1")
	require.NoError(t, err)
	for i := 1; i < len(runs); i++ {
		assert.True(t, runs[i-1].ModelTrainedAt.After(runs[i].ModelTrainedAt))
	}
	got, err := s.SelectCurrent(ctx, "SKU-1", t0)
	require.NoError(t, err)
	assert.Equal(t, runs[0].ModelTrainedAt, got.ModelTrainedAt)
}

func TestMemoryStoreTrimsSKUOnLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, makeRun(" SKU-1 ", t0, 2)))

	for _, sku := range []string{"SKU-1", " SKU-1", "SKU-1\t"} {
		run, err := s.SelectCurrent(ctx, sku, t0)
		require.NoError(t, err, "sku %q", sku)
		assert.Equal(t, "SKU-1", run.SKUID)

		runs, err := s.ListRuns(ctx, sku)
		require.NoError(t, err)
		assert.Len(t, runs, 1, "sku %q", sku)
	}
}
