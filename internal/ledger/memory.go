package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

type streamKey struct {
	key       domain.InventoryKey
	eventType domain.EventType
}

// MemoryLedger keeps events in process memory. Each stream is kept sorted by
// event time so Fetch can binary search the window.
type MemoryLedger struct {
	mu      sync.RWMutex
	streams map[streamKey][]domain.InventoryEvent
	ids     map[string]struct{}
	clock   func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		streams: make(map[streamKey][]domain.InventoryEvent),
		ids:     make(map[string]struct{}),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLedger) Append(ctx context.Context, event *domain.InventoryEvent) error {
	return l.AppendBatch(ctx, []*domain.InventoryEvent{event})
}

func (l *MemoryLedger) AppendBatch(ctx context.Context, events []*domain.InventoryEvent) error {
	if err := PrepareBatch(events, l.clock()); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range events {
		if _, dup := l.ids[e.ID]; dup {
			return fmt.Errorf("%w: event %s", domain.ErrDuplicate, e.ID)
		}
	}
	for _, e := range events {
		l.insertLocked(*e)
	}
	return nil
}

func (l *MemoryLedger) insertLocked(e domain.InventoryEvent) {
	sk := streamKey{key: e.Key(), eventType: e.Type}
	stream := l.streams[sk]
	// upper bound keeps arrival order among equal timestamps
	i := sort.Search(len(stream), func(i int) bool { return stream[i].Time.After(e.Time) })
	stream = append(stream, domain.InventoryEvent{})
	copy(stream[i+1:], stream[i:])
	stream[i] = e
	l.streams[sk] = stream
	l.ids[e.ID] = struct{}{}
}

func (l *MemoryLedger) Fetch(ctx context.Context, key domain.InventoryKey, eventType domain.EventType, window domain.TimeWindow) ([]domain.InventoryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[streamKey{key: key, eventType: eventType}]
	start := 0
	if !window.Since.IsZero() {
		start = sort.Search(len(stream), func(i int) bool { return stream[i].Time.After(window.Since) })
	}
	end := len(stream)
	if !window.Until.IsZero() {
		end = sort.Search(len(stream), func(i int) bool { return stream[i].Time.After(window.Until) })
	}
	if start >= end {
		return nil, nil
	}

	out := make([]domain.InventoryEvent, end-start)
	copy(out, stream[start:end])
	return out, nil
}

func (l *MemoryLedger) Keys(ctx context.Context) ([]domain.InventoryKey, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	set := make(map[domain.InventoryKey]struct{})
	for sk, stream := range l.streams {
		if len(stream) > 0 {
			set[sk.key] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (l *MemoryLedger) Close() error {
	return nil
}

func sortedKeys(set map[domain.InventoryKey]struct{}) []domain.InventoryKey {
	keys := make([]domain.InventoryKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

var _ Ledger = (*MemoryLedger)(nil)
