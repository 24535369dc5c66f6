package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

const snapshotKeyLayout = "2006/01/02/20060102T150405.000000000Z"

type archivedSnapshot struct {
	CalculatedAt time.Time        `json:"calculated_at"`
	Rows         []domain.Metrics `json:"rows"`
}

// SnapshotArchiver writes every published snapshot to object storage as JSON,
// one object per calculated_at.
type SnapshotArchiver struct {
	store  ObjectStorage
	prefix string
}

func NewSnapshotArchiver(store ObjectStorage, prefix string) *SnapshotArchiver {
	return &SnapshotArchiver{store: store, prefix: prefix}
}

func (a *SnapshotArchiver) key(calculatedAt time.Time) string {
	return path.Join(a.prefix, calculatedAt.UTC().Format(snapshotKeyLayout)+".json")
}

// OnSnapshot archives snap.
func (a *SnapshotArchiver) OnSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	payload, err := json.Marshal(archivedSnapshot{CalculatedAt: snap.CalculatedAt, Rows: snap.Rows()})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return a.store.UploadObject(ctx, a.key(snap.CalculatedAt), payload, "application/json")
}

// LoadLatest loads the newest archived snapshot or returns domain.ErrNoSnapshot.
func (a *SnapshotArchiver) LoadLatest(ctx context.Context) (*domain.Snapshot, error) {
	objects, err := a.store.ListObjects(ctx, a.prefix)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, domain.ErrNoSnapshot
	}

	// keys embed the timestamp in sortable form
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })

	var buf bytes.Buffer
	if err := a.store.DownloadObject(ctx, objects[0].Key, &buf); err != nil {
		return nil, err
	}
	var archived archivedSnapshot
	if err := json.Unmarshal(buf.Bytes(), &archived); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", objects[0].Key, err)
	}

	return domain.NewSnapshot(archived.CalculatedAt.UTC(), archived.Rows), nil
}
