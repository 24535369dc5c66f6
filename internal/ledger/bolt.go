package ledger

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

var (
	boltEventsBucket = []byte("events")
	boltKeysBucket   = []byte("keys")
	boltIDsBucket    = []byte("ids")
)

// BoltLedger implements Ledger using BoltDB (bbolt). It keeps the whole
// ledger in a single compact file.
type BoltLedger struct {
	db    *bbolt.DB
	clock func() time.Time
}

// NewBoltLedger opens (or creates) a bolt ledger at dbPath
func NewBoltLedger(dbPath string) (*BoltLedger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory for bolt db: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistMapType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{boltEventsBucket, boltKeysBucket, boltIDsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltLedger{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database file
func (l *BoltLedger) Close() error {
	return l.db.Close()
}

func (l *BoltLedger) Append(ctx context.Context, event *domain.InventoryEvent) error {
	return l.AppendBatch(ctx, []*domain.InventoryEvent{event})
}

func (l *BoltLedger) AppendBatch(ctx context.Context, events []*domain.InventoryEvent) error {
	if err := PrepareBatch(events, l.clock()); err != nil {
		return err
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		eventsBucket := tx.Bucket(boltEventsBucket)
		keysBucket := tx.Bucket(boltKeysBucket)
		idsBucket := tx.Bucket(boltIDsBucket)

		for _, e := range events {
			if idsBucket.Get([]byte(e.ID)) != nil {
				return fmt.Errorf("%w: event %s", domain.ErrDuplicate, e.ID)
			}

			data, err := encodeEvent(e)
			if err != nil {
				return err
			}
			k := eventKey(e)
			if err := eventsBucket.Put(k, data); err != nil {
				return err
			}
			if err := idsBucket.Put([]byte(e.ID), k); err != nil {
				return err
			}
			if err := keysBucket.Put(inventoryKeyBytes(e.Key()), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BoltLedger) Fetch(ctx context.Context, key domain.InventoryKey, eventType domain.EventType, window domain.TimeWindow) ([]domain.InventoryEvent, error) {
	var out []domain.InventoryEvent
	prefix := streamPrefix(key, eventType)

	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltEventsBucket).Cursor()
		for k, v := c.Seek(seekStart(prefix, window)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if pastWindow(k, len(prefix), window) {
				break
			}
			e, err := decodeEvent(v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt fetch %s/%s: %w", key, eventType, err)
	}
	return out, nil
}

func (l *BoltLedger) Keys(ctx context.Context) ([]domain.InventoryKey, error) {
	var keys []domain.InventoryKey
	err := l.db.View(func(tx *bbolt.Tx) error {
		// bolt iterates in byte order, which is the (sku, warehouse) order
		return tx.Bucket(boltKeysBucket).ForEach(func(k, _ []byte) error {
			key, err := parseInventoryKey(k)
			if err != nil {
				return err
			}
			keys = append(keys, key)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt keys: %w", err)
	}
	return keys, nil
}

var _ Ledger = (*BoltLedger)(nil)
