package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

const (
	badgerEventPrefix = "evt:"
	badgerKeyPrefix   = "key:"
	badgerIDPrefix    = "id:"
)

// BadgerLedger implements Ledger using BadgerDB. It suits high ingest rates
// at the cost of larger files on disk.
type BadgerLedger struct {
	db    *badger.DB
	clock func() time.Time
	mu    sync.Mutex // serializes the duplicate check with the write
}

// NewBadgerLedger opens (or creates) a badger ledger in dbPath. An empty
// dbPath keeps the ledger in memory.
func NewBadgerLedger(dbPath string) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerLedger, error) {
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerLedger{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database connection
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

func (l *BadgerLedger) Append(ctx context.Context, event *domain.InventoryEvent) error {
	return l.AppendBatch(ctx, []*domain.InventoryEvent{event})
}

// AppendBatch checks every ID against the ledger before writing anything.
// A batch larger than one badger transaction is committed in several.
func (l *BadgerLedger) AppendBatch(ctx context.Context, events []*domain.InventoryEvent) error {
	if err := PrepareBatch(events, l.clock()); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.db.View(func(txn *badger.Txn) error {
		for _, e := range events {
			_, err := txn.Get([]byte(badgerIDPrefix + e.ID))
			if err == nil {
				return fmt.Errorf("%w: event %s", domain.ErrDuplicate, e.ID)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	txn := l.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	set := func(k, v []byte) error {
		err := txn.Set(k, v)
		if !errors.Is(err, badger.ErrTxnTooBig) {
			return err
		}
		if err := txn.Commit(); err != nil {
			return fmt.Errorf("badger commit partial batch: %w", err)
		}
		txn = l.db.NewTransaction(true)
		return txn.Set(k, v)
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := encodeEvent(e)
		if err != nil {
			return err
		}
		k := append([]byte(badgerEventPrefix), eventKey(e)...)
		if err := set(k, data); err != nil {
			return err
		}
		if err := set([]byte(badgerIDPrefix+e.ID), k); err != nil {
			return err
		}
		if err := set(append([]byte(badgerKeyPrefix), inventoryKeyBytes(e.Key())...), []byte{1}); err != nil {
			return err
		}
	}
	return txn.Commit()
}

func (l *BadgerLedger) Fetch(ctx context.Context, key domain.InventoryKey, eventType domain.EventType, window domain.TimeWindow) ([]domain.InventoryEvent, error) {
	var out []domain.InventoryEvent
	prefix := append([]byte(badgerEventPrefix), streamPrefix(key, eventType)...)

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekStart(prefix, window)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if pastWindow(item.Key(), len(prefix), window) {
				break
			}
			err := item.Value(func(val []byte) error {
				e, err := decodeEvent(val)
				if err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger fetch %s/%s: %w", key, eventType, err)
	}
	return out, nil
}

func (l *BadgerLedger) Keys(ctx context.Context) ([]domain.InventoryKey, error) {
	var keys []domain.InventoryKey
	prefix := []byte(badgerKeyPrefix)

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key, err := parseInventoryKey(it.Item().KeyCopy(nil)[len(prefix):])
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger keys: %w", err)
	}
	return keys, nil
}

var _ Ledger = (*BadgerLedger)(nil)
