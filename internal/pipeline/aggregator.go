package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

// Aggregator is the single writer of metrics snapshots. Each run reads the
// ledger, computes every key and publishes the result in one swap. A failed,
// abandoned or skipped run leaves the published snapshot untouched.
type Aggregator struct {
	ledger    ledger.Ledger
	calc      *Calculator
	store     *SnapshotStore
	cfg       Config
	clock     func() time.Time
	recorder  RunRecorder
	listeners []SnapshotListener

	runMu   sync.Mutex // held for the whole run; TryLock enforces single flight
	skipped atomic.Int64

	statusMu            sync.RWMutex
	running             bool
	lastRun             *RunRecord
	lastSuccessAt       *time.Time
	consecutiveFailures int
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(a *Aggregator) { a.clock = clock }
}

// WithRecorder persists run records
func WithRecorder(r RunRecorder) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithListeners registers snapshot listeners, called in order after publish
func WithListeners(listeners ...SnapshotListener) Option {
	return func(a *Aggregator) { a.listeners = append(a.listeners, listeners...) }
}

// NewAggregator creates an aggregator publishing into store
func NewAggregator(l ledger.Ledger, store *SnapshotStore, cfg Config, opts ...Option) *Aggregator {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.MaxRunDuration <= 0 {
		cfg.MaxRunDuration = defaults.MaxRunDuration
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	a := &Aggregator{
		ledger:   l,
		calc:     NewCalculator(l),
		store:    store,
		cfg:      cfg,
		clock:    func() time.Time { return time.Now().UTC() },
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the effective configuration
func (a *Aggregator) Config() Config {
	return a.cfg
}

// Start runs the aggregator immediately and then on every interval until ctx
// is done.
func (a *Aggregator) Start(ctx context.Context) {
	log.Info().
		Dur("interval", a.cfg.Interval).
		Dur("max_run_duration", a.cfg.MaxRunDuration).
		Int("workers", a.cfg.WorkerCount).
		Msg("aggregator: scheduler started")

	a.tick(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("aggregator: scheduler stopped")
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Aggregator) tick(ctx context.Context) {
	if _, err := a.RunOnce(ctx); err != nil && !errors.Is(err, domain.ErrRunInFlight) {
		log.Error().Err(err).Msg("aggregator: run failed, keeping last published snapshot")
	}
}

type runResult struct {
	rows []domain.Metrics
	err  error
}

// RunOnce performs one aggregation run. It returns domain.ErrRunInFlight when
// another run holds the lock and domain.ErrRunTimeout when the run is
// abandoned after the maximum duration.
func (a *Aggregator) RunOnce(ctx context.Context) (*domain.Snapshot, error) {
	if !a.runMu.TryLock() {
		n := a.skipped.Add(1)
		log.Warn().Int64("skipped_runs", n).Msg("aggregator: run already in flight, skipping")
		return nil, domain.ErrRunInFlight
	}
	defer a.runMu.Unlock()

	run := &RunRecord{
		ID:        uuid.New().String(),
		Status:    StatusRunning,
		StartedAt: a.clock(),
	}
	run.CalculatedAt = a.nextCalculatedAt(run.StartedAt)
	a.setRunning(run)

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.MaxRunDuration)
	defer cancel()

	// The computation runs in its own goroutine so a run that ignores
	// cancellation can still be abandoned; its late result is dropped.
	done := make(chan runResult, 1)
	go func() {
		rows, err := a.compute(runCtx, run.CalculatedAt)
		done <- runResult{rows: rows, err: err}
	}()

	var res runResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		err := runCtx.Err()
		status := StatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", domain.ErrRunTimeout, a.cfg.MaxRunDuration)
			status = StatusAbandoned
		}
		a.finish(ctx, run, status, err)
		return nil, err
	}

	if res.err != nil {
		err := fmt.Errorf("aggregate: %w", res.err)
		a.finish(ctx, run, StatusFailed, err)
		return nil, err
	}

	snap := domain.NewSnapshot(run.CalculatedAt, res.rows)
	if err := a.store.Publish(snap); err != nil {
		err = fmt.Errorf("publish snapshot: %w", err)
		a.finish(ctx, run, StatusFailed, err)
		return nil, err
	}
	run.KeyCount = snap.Len()
	a.finish(ctx, run, StatusCompleted, nil)

	for _, l := range a.listeners {
		if err := l.OnSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Str("listener", fmt.Sprintf("%T", l)).Msg("aggregator: snapshot listener failed")
		}
	}

	return snap, nil
}

func (a *Aggregator) compute(ctx context.Context, asOf time.Time) ([]domain.Metrics, error) {
	keys, err := a.ledger.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger keys: %w", err)
	}

	rows := make([]domain.Metrics, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.WorkerCount)
	for i, key := range keys {
		g.Go(func() error {
			m, err := a.calc.Compute(gctx, key, asOf)
			if err != nil {
				return err
			}
			rows[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// nextCalculatedAt keeps calculated_at strictly increasing even when the
// clock has not advanced past the published snapshot.
func (a *Aggregator) nextCalculatedAt(now time.Time) time.Time {
	if prev := a.store.Current(); prev != nil && !now.After(prev.CalculatedAt) {
		return prev.CalculatedAt.Add(time.Microsecond)
	}
	return now
}

func (a *Aggregator) setRunning(run *RunRecord) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.running = true
	a.lastRun = run
}

func (a *Aggregator) finish(ctx context.Context, run *RunRecord, status RunStatus, err error) {
	completed := a.clock()
	run.Status = status
	run.CompletedAt = &completed
	if err != nil {
		run.ErrorMessage = err.Error()
	}

	a.statusMu.Lock()
	a.running = false
	record := *run
	a.lastRun = &record
	if status == StatusCompleted {
		a.lastSuccessAt = &completed
		a.consecutiveFailures = 0
	} else {
		a.consecutiveFailures++
	}
	failures := a.consecutiveFailures
	a.statusMu.Unlock()

	event := log.Info()
	if err != nil {
		event = log.Error().Err(err).Int("consecutive_failures", failures)
	}
	event.
		Str("run_id", run.ID).
		Str("status", string(status)).
		Int("keys", run.KeyCount).
		Time("calculated_at", run.CalculatedAt).
		Dur("duration", run.Duration()).
		Msg("aggregator: run finished")

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.recorder.RecordRun(recCtx, &record); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("aggregator: failed to record run")
	}
}

// Status returns the operational state of the aggregator
func (a *Aggregator) Status() Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()

	s := Status{
		Running:             a.running,
		Interval:            a.cfg.Interval.String(),
		MaxRunDuration:      a.cfg.MaxRunDuration.String(),
		LastSuccessAt:       a.lastSuccessAt,
		ConsecutiveFailures: a.consecutiveFailures,
		SkippedRuns:         a.skipped.Load(),
	}
	if a.lastRun != nil {
		last := *a.lastRun
		s.LastRun = &last
	}
	return s
}
