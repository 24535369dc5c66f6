package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

// SnapshotRepository persists published snapshots.
type SnapshotRepository interface {
	Save(ctx context.Context, snap *domain.Snapshot) error
	SnapshotLoader
}

// SnapshotLoader returns the newest persisted snapshot or
// domain.ErrNoSnapshot.
type SnapshotLoader interface {
	LoadLatest(ctx context.Context) (*domain.Snapshot, error)
}

// SnapshotPublisher accepts a restored snapshot.
type SnapshotPublisher interface {
	Publish(snap *domain.Snapshot) error
}

// RestoreLatest publishes the newest snapshot found across loaders, so reads
// are served before the first aggregator run. It returns the restored
// snapshot, or nil when no loader has one. A failing loader is logged and
// skipped.
func RestoreLatest(ctx context.Context, publisher SnapshotPublisher, loaders ...SnapshotLoader) (*domain.Snapshot, error) {
	var latest *domain.Snapshot
	for _, loader := range loaders {
		if loader == nil {
			continue
		}
		snap, err := loader.LoadLatest(ctx)
		switch {
		case errors.Is(err, domain.ErrNoSnapshot):
			continue
		case err != nil:
			log.Warn().Err(err).Msg("restore: snapshot loader failed")
			continue
		}
		if latest == nil || snap.CalculatedAt.After(latest.CalculatedAt) {
			latest = snap
		}
	}

	if latest == nil {
		return nil, nil
	}
	if err := publisher.Publish(latest); err != nil {
		return nil, fmt.Errorf("publish restored snapshot: %w", err)
	}

	log.Info().
		Time("calculated_at", latest.CalculatedAt).
		Int("rows", latest.Len()).
		Msg("restore: snapshot restored")
	return latest, nil
}
