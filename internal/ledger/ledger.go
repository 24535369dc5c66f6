package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

// Ledger is the append-only store of inventory events. There is no update or
// delete: corrections are appended as offsetting events.
type Ledger interface {
	// Append validates and stores one event. It assigns an ID and RecordedAt
	// when they are empty.
	Append(ctx context.Context, event *domain.InventoryEvent) error
	// AppendBatch stores events atomically; one invalid event rejects the batch.
	AppendBatch(ctx context.Context, events []*domain.InventoryEvent) error
	// Fetch returns the events of one type for a key inside window, ordered by time.
	Fetch(ctx context.Context, key domain.InventoryKey, eventType domain.EventType, window domain.TimeWindow) ([]domain.InventoryEvent, error)
	// Keys lists every (sku, warehouse) pair with at least one event.
	Keys(ctx context.Context) ([]domain.InventoryKey, error)
	Close() error
}

// BackendType selects a ledger implementation.
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendBolt     BackendType = "bolt"
	BackendBadger   BackendType = "badger"
	BackendPostgres BackendType = "postgres"
)

// prepare validates the event and fills the fields the ledger owns.
func prepare(event *domain.InventoryEvent, now time.Time) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = now
	}
	event.Time = event.Time.UTC()
	event.RecordedAt = event.RecordedAt.UTC()
	return nil
}

// PrepareBatch validates every event before any of them is stored and
// rejects IDs repeated inside the batch.
func PrepareBatch(events []*domain.InventoryEvent, now time.Time) error {
	seen := make(map[string]struct{}, len(events))
	for i, e := range events {
		if err := prepare(e, now); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("event %d: %w: id %s repeated in batch", i, domain.ErrDuplicate, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// Prepare is the single-event form of PrepareBatch, exported for ledgers
// implemented outside this package.
func Prepare(event *domain.InventoryEvent, now time.Time) error {
	return prepare(event, now)
}
