package ledger

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

var base = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func event(sku, wh string, typ domain.EventType, qty int64, at time.Time) *domain.InventoryEvent {
	return &domain.InventoryEvent{
		Time:        at,
		SKUID:       sku,
		WarehouseID: wh,
		Type:        typ,
		Quantity:    decimal.NewFromInt(qty),
	}
}

// testLedgers yields every embedded backend, each freshly created.
func testLedgers(t *testing.T) iter.Seq2[string, Ledger] {
	return func(yield func(string, Ledger) bool) {
		factories := []struct {
			name string
			open func() (Ledger, error)
		}{
			{"memory", func() (Ledger, error) { return NewMemoryLedger(), nil }},
			{"bolt", func() (Ledger, error) { return NewBoltLedger(filepath.Join(t.TempDir(), "ledger.bolt")) }},
			{"badger", func() (Ledger, error) { return NewBadgerLedger(t.TempDir()) }},
		}
		for _, f := range factories {
			l, err := f.open()
			require.NoError(t, err, f.name)
			keepGoing := yield(f.name, l)
			l.Close()
			if !keepGoing {
				return
			}
		}
	}
}

func TestLedgerAppendAndFetch(t *testing.T) {
	ctx := context.Background()
	for name, l := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, l.Append(ctx, event("SKU-1", "WH-1", domain.EventShipment, 10, base.Add(48*time.Hour))))
			require.NoError(t, l.Append(ctx, event("SKU-1", "WH-1", domain.EventShipment, 5, base)))
			require.NoError(t, l.Append(ctx, event("SKU-1", "WH-1", domain.EventDepletion, 3, base.Add(24*time.Hour))))
			require.NoError(t, l.Append(ctx, event("SKU-1", "WH-2", domain.EventShipment, 7, base)))

			got, err := l.Fetch(ctx, domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}, domain.EventShipment, domain.TimeWindow{})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.True(t, got[0].Time.Equal(base), "events ordered by time")
			assert.True(t, got[0].Quantity.Equal(decimal.NewFromInt(5)))
			assert.NotEmpty(t, got[0].ID)
			assert.False(t, got[0].RecordedAt.IsZero())

			depl, err := l.Fetch(ctx, domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}, domain.EventDepletion, domain.TimeWindow{})
			require.NoError(t, err)
			assert.Len(t, depl, 1)
		})
	}
}

func TestLedgerFetchWindow(t *testing.T) {
	ctx := context.Background()
	key := domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}
	for name, l := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			for day := 0; day < 10; day++ {
				require.NoError(t, l.Append(ctx, event(key.SKUID, key.WarehouseID, domain.EventDepletion, int64(day+1), base.AddDate(0, 0, day))))
			}

			// (day 2, day 5] => days 3, 4, 5
			window := domain.TimeWindow{Since: base.AddDate(0, 0, 2), Until: base.AddDate(0, 0, 5)}
			got, err := l.Fetch(ctx, key, domain.EventDepletion, window)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.True(t, got[0].Quantity.Equal(decimal.NewFromInt(4)))
			assert.True(t, got[2].Quantity.Equal(decimal.NewFromInt(6)))

			until, err := l.Fetch(ctx, key, domain.EventDepletion, domain.TimeWindow{Until: base})
			require.NoError(t, err)
			assert.Len(t, until, 1)

			empty, err := l.Fetch(ctx, key, domain.EventShipment, window)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestLedgerRejectsInvalidEvents(t *testing.T) {
	ctx := context.Background()
	for name, l := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			err := l.Append(ctx, event("SKU-1", "WH-1", domain.EventShipment, 0, base))
			assert.True(t, errors.Is(err, domain.ErrValidation))

			err = l.Append(ctx, event("SKU-1", "WH-1", "return", 4, base))
			assert.True(t, errors.Is(err, domain.ErrValidation))

			batch := []*domain.InventoryEvent{
				event("SKU-2", "WH-1", domain.EventShipment, 4, base),
				event("SKU-2", "WH-1", domain.EventShipment, -1, base),
			}
			err = l.AppendBatch(ctx, batch)
			assert.True(t, errors.Is(err, domain.ErrValidation))

			keys, err := l.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys, "rejected batch leaves the ledger untouched")
		})
	}
}

func TestLedgerRejectsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	for name, l := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			first := event("SKU-1", "WH-1", domain.EventShipment, 4, base)
			first.ID = "7f7c2f4e-0000-4000-8000-000000000001"
			require.NoError(t, l.Append(ctx, first))

			again := event("SKU-1", "WH-1", domain.EventShipment, 9, base.Add(time.Hour))
			again.ID = first.ID
			err := l.Append(ctx, again)
			assert.True(t, errors.Is(err, domain.ErrDuplicate))

			got, err := l.Fetch(ctx, first.Key(), domain.EventShipment, domain.TimeWindow{})
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestLedgerKeys(t *testing.T) {
	ctx := context.Background()
	for name, l := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, l.AppendBatch(ctx, []*domain.InventoryEvent{
				event("SKU-B", "WH-1", domain.EventShipment, 1, base),
				event("SKU-A", "WH-2", domain.EventDepletion, 1, base),
				event("SKU-A", "WH-1", domain.EventShipment, 1, base),
				event("SKU-A", "WH-1", domain.EventDepletion, 1, base),
			}))

			keys, err := l.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []domain.InventoryKey{
				{SKUID: "SKU-A", WarehouseID: "WH-1"},
				{SKUID: "SKU-A", WarehouseID: "WH-2"},
				{SKUID: "SKU-B", WarehouseID: "WH-1"},
			}, keys)
		})
	}
}

func TestMemoryLedgerConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Append(ctx, event("SKU-1", "WH-1", domain.EventShipment, 1, base.Add(time.Duration(i)*time.Minute)))
		}(i)
	}
	wg.Wait()

	got, err := l.Fetch(ctx, domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}, domain.EventShipment, domain.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Time.Before(got[i-1].Time))
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("cassandra", t.TempDir())
	assert.Error(t, err)
}

func TestLedgerRejectsTimesOutsideRange(t *testing.T) {
	ctx := context.Background()
	key := domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}
	for name, l := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			for _, at := range []time.Time{
				time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
			} {
				err := l.Append(ctx, event("SKU-1", "WH-1", domain.EventShipment, 100, at))
				assert.ErrorIs(t, err, domain.ErrValidation, at.String())
			}

			require.NoError(t, l.Append(ctx, event("SKU-1", "WH-1", domain.EventShipment, 100, base)))
			got, err := l.Fetch(ctx, key, domain.EventShipment, domain.TimeWindow{})
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestLedgerFetchNearRangeEnds(t *testing.T) {
	ctx := context.Background()
	key := domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}
	early := time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2250, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, l := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, l.AppendBatch(ctx, []*domain.InventoryEvent{
				event("SKU-1", "WH-1", domain.EventShipment, 1, late),
				event("SKU-1", "WH-1", domain.EventShipment, 2, early),
				event("SKU-1", "WH-1", domain.EventShipment, 3, base),
			}))

			all, err := l.Fetch(ctx, key, domain.EventShipment, domain.TimeWindow{
				Until: time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.True(t, all[0].Time.Equal(early))
			assert.True(t, all[2].Time.Equal(late))

			upToNow, err := l.Fetch(ctx, key, domain.EventShipment, domain.TimeWindow{Until: base.AddDate(1, 0, 0)})
			require.NoError(t, err)
			assert.Len(t, upToNow, 2)

			none, err := l.Fetch(ctx, key, domain.EventShipment, domain.TimeWindow{
				Since: time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC),
				Until: time.Date(1100, 1, 1, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestBadgerAppendBatchLargerThanOneTxn(t *testing.T) {
	ctx := context.Background()
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithMemTableSize(1 << 20).
		WithValueThreshold(1 << 10)
	l, err := openBadger(opts)
	require.NoError(t, err)
	defer l.Close()

	const n = 5000
	events := make([]*domain.InventoryEvent, n)
	for i := range events {
		events[i] = event("SKU-1", "WH-1", domain.EventShipment, 1, base.Add(time.Duration(i)*time.Second))
	}
	require.NoError(t, l.AppendBatch(ctx, events))

	got, err := l.Fetch(ctx, domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}, domain.EventShipment, domain.TimeWindow{})
	require.NoError(t, err)
	assert.Len(t, got, n)

	err = l.AppendBatch(ctx, []*domain.InventoryEvent{
		event("SKU-2", "WH-1", domain.EventShipment, 1, base),
		{ID: events[10].ID, Time: base, SKUID: "SKU-1", WarehouseID: "WH-1", Type: domain.EventShipment, Quantity: decimal.NewFromInt(1)},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	keys, err := l.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1, "a rejected batch writes nothing")
}
