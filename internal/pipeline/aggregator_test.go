package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

// gatedLedger blocks Keys until release is closed and can be told to fail.
type gatedLedger struct {
	ledger.Ledger
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	failErr error
}

func newGatedLedger(inner ledger.Ledger) *gatedLedger {
	return &gatedLedger{
		Ledger:  inner,
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedLedger) Keys(ctx context.Context) ([]domain.InventoryKey, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Ledger.Keys(ctx)
}

func (g *gatedLedger) Fetch(ctx context.Context, key domain.InventoryKey, t domain.EventType, w domain.TimeWindow) ([]domain.InventoryEvent, error) {
	g.mu.Lock()
	err := g.failErr
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return g.Ledger.Fetch(ctx, key, t, w)
}

func (g *gatedLedger) fail(err error) {
	g.mu.Lock()
	g.failErr = err
	g.mu.Unlock()
}

type memRecorder struct {
	mu   sync.Mutex
	runs []RunRecord
}

func (r *memRecorder) RecordRun(ctx context.Context, run *RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return nil
}

func (r *memRecorder) statuses() []RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunStatus, len(r.runs))
	for i, run := range r.runs {
		out[i] = run.Status
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seededLedger(t *testing.T) *ledger.MemoryLedger {
	l := ledger.NewMemoryLedger()
	seed(t, l,
		ev("SKU-1", "WH-1", domain.EventShipment, 500, daysAgo(40)),
		ev("SKU-1", "WH-1", domain.EventDepletion, 300, daysAgo(10)),
		ev("SKU-1", "WH-2", domain.EventShipment, 650, daysAgo(20)),
		ev("SKU-1", "WH-2", domain.EventDepletion, 600, daysAgo(2)),
		ev("SKU-2", "WH-1", domain.EventShipment, 80, daysAgo(3)),
	)
	return l
}

func testConfig() Config {
	return Config{Interval: time.Minute, MaxRunDuration: time.Second, WorkerCount: 2}
}

func TestAggregatorRunOncePublishes(t *testing.T) {
	store := NewSnapshotStore()
	rec := &memRecorder{}
	var notified *domain.Snapshot
	agg := NewAggregator(seededLedger(t), store, testConfig(),
		WithClock(fixedClock(asOf)),
		WithRecorder(rec),
		WithListeners(SnapshotListenerFunc(func(ctx context.Context, snap *domain.Snapshot) error {
			notified = snap
			return errors.New("listener failures are not fatal")
		})),
	)

	snap, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, store.Current())
	assert.Same(t, snap, notified)
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, asOf, snap.CalculatedAt)

	row, ok := snap.Get(domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-2"})
	require.True(t, ok)
	assert.Equal(t, "2.5", row.DOHT30.Decimal.String())

	status := agg.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, StatusCompleted, status.LastRun.Status)
	assert.Equal(t, 3, status.LastRun.KeyCount)
	assert.NotNil(t, status.LastSuccessAt)
	assert.Equal(t, []RunStatus{StatusCompleted}, rec.statuses())
}

func TestAggregatorCalculatedAtStrictlyIncreases(t *testing.T) {
	store := NewSnapshotStore()
	agg := NewAggregator(seededLedger(t), store, testConfig(), WithClock(fixedClock(asOf)))

	first, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := agg.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, second.CalculatedAt.After(first.CalculatedAt))
	assert.Equal(t, first.CalculatedAt.Add(time.Microsecond), second.CalculatedAt)
}

func TestAggregatorFailureKeepsPreviousSnapshot(t *testing.T) {
	gl := newGatedLedger(seededLedger(t))
	close(gl.release)
	store := NewSnapshotStore()
	rec := &memRecorder{}
	now := asOf
	agg := NewAggregator(gl, store, testConfig(),
		WithClock(func() time.Time { return now }),
		WithRecorder(rec),
	)

	good, err := agg.RunOnce(context.Background())
	require.NoError(t, err)

	gl.fail(errors.New("disk on fire"))
	now = asOf.Add(time.Minute)
	_, err = agg.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")

	assert.Same(t, good, store.Current())
	status := agg.Status()
	assert.Equal(t, 1, status.ConsecutiveFailures)
	assert.Equal(t, StatusFailed, status.LastRun.Status)
	assert.Equal(t, []RunStatus{StatusCompleted, StatusFailed}, rec.statuses())

	gl.fail(nil)
	now = asOf.Add(2 * time.Minute)
	next, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Same(t, next, store.Current())
	assert.Zero(t, agg.Status().ConsecutiveFailures)
}

func TestAggregatorSingleFlight(t *testing.T) {
	gl := newGatedLedger(seededLedger(t))
	store := NewSnapshotStore()
	agg := NewAggregator(gl, store, Config{Interval: time.Minute, MaxRunDuration: 10 * time.Second, WorkerCount: 2},
		WithClock(fixedClock(asOf)))

	type outcome struct {
		snap *domain.Snapshot
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		snap, err := agg.RunOnce(context.Background())
		done <- outcome{snap, err}
	}()
	<-gl.entered

	assert.True(t, agg.Status().Running)
	_, err := agg.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrRunInFlight)
	assert.Equal(t, int64(1), agg.Status().SkippedRuns)

	close(gl.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Same(t, res.snap, store.Current())
}

func TestAggregatorAbandonsSlowRun(t *testing.T) {
	gl := newGatedLedger(seededLedger(t))
	store := NewSnapshotStore()
	rec := &memRecorder{}
	agg := NewAggregator(gl, store, Config{Interval: time.Minute, MaxRunDuration: 50 * time.Millisecond, WorkerCount: 1},
		WithClock(fixedClock(asOf)), WithRecorder(rec))

	_, err := agg.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrRunTimeout)
	assert.Nil(t, store.Current())
	assert.Equal(t, StatusAbandoned, agg.Status().LastRun.Status)
	assert.Equal(t, []RunStatus{StatusAbandoned}, rec.statuses())

	// the lock is free again and the late result of the abandoned run is dropped
	close(gl.release)
	snap, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, store.Current())
}

func TestAggregatorStartStopsWithContext(t *testing.T) {
	store := NewSnapshotStore()
	agg := NewAggregator(seededLedger(t), store, Config{Interval: time.Hour, MaxRunDuration: time.Second, WorkerCount: 1})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		agg.Start(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return store.Current() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
