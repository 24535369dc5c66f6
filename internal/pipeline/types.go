package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

// Config holds the aggregator schedule and limits
type Config struct {
	Interval       time.Duration // Time between scheduled runs
	MaxRunDuration time.Duration // A run still going after this is abandoned
	WorkerCount    int           // Number of keys computed concurrently
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		MaxRunDuration: 2 * time.Minute,
		WorkerCount:    4,
	}
}

// StaleAfter is the staleness bound of a published snapshot: one full
// interval plus the longest a run may take.
func (c Config) StaleAfter() time.Duration {
	return c.Interval + c.MaxRunDuration
}

// RunStatus represents the outcome of an aggregator run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAbandoned RunStatus = "abandoned"
	StatusSkipped   RunStatus = "skipped"
)

// RunRecord tracks a single aggregator run
type RunRecord struct {
	ID           string     `json:"id" db:"id"`
	Status       RunStatus  `json:"status" db:"status"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CalculatedAt time.Time  `json:"calculated_at" db:"calculated_at"`
	KeyCount     int        `json:"key_count" db:"key_count"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
}

// Duration returns how long the run took, zero while it is running.
func (r *RunRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Status is the operational state of the aggregator
type Status struct {
	Running             bool       `json:"running"`
	Interval            string     `json:"interval"`
	MaxRunDuration      string     `json:"max_run_duration"`
	LastRun             *RunRecord `json:"last_run,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	SkippedRuns         int64      `json:"skipped_runs"`
}

// RunRecorder persists run records for auditing
type RunRecorder interface {
	RecordRun(ctx context.Context, run *RunRecord) error
}

// SnapshotListener is notified after a snapshot has been published. Listener
// failures are logged and never undo the publish.
type SnapshotListener interface {
	OnSnapshot(ctx context.Context, snap *domain.Snapshot) error
}

// SnapshotListenerFunc adapts a function to SnapshotListener
type SnapshotListenerFunc func(ctx context.Context, snap *domain.Snapshot) error

func (f SnapshotListenerFunc) OnSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return f(ctx, snap)
}

type noopRecorder struct{}

func (noopRecorder) RecordRun(ctx context.Context, run *RunRecord) error { return nil }
