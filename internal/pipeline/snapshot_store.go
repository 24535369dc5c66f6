package pipeline

import (
	"errors"
	"sync/atomic"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

// ErrStaleSnapshot is returned when a snapshot is not newer than the one
// already published.
var ErrStaleSnapshot = errors.New("snapshot is not newer than the published one")

// SnapshotStore holds the currently published snapshot. Publishing is a
// single pointer swap, so readers see either the old or the new snapshot in
// full and never block.
type SnapshotStore struct {
	current atomic.Pointer[domain.Snapshot]
}

// NewSnapshotStore creates an empty store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Current returns the published snapshot, or nil before the first publish.
func (s *SnapshotStore) Current() *domain.Snapshot {
	return s.current.Load()
}

// Publish swaps in snap. calculated_at must strictly increase.
func (s *SnapshotStore) Publish(snap *domain.Snapshot) error {
	for {
		old := s.current.Load()
		if old != nil && !snap.CalculatedAt.After(old.CalculatedAt) {
			return ErrStaleSnapshot
		}
		if s.current.CompareAndSwap(old, snap) {
			return nil
		}
	}
}
