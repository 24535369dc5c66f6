package drive

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Watcher polls a folder and ingests new feed files.
type Watcher struct {
	ingest   *IngestService
	folderID string
	interval time.Duration
}

func NewWatcher(ingest *IngestService, folderID string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Watcher{ingest: ingest, folderID: folderID, interval: interval}
}

// Start syncs immediately and then on every interval until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	log.Info().Str("folder_id", w.folderID).Dur("interval", w.interval).Msg("drive: watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ingest.SyncFolder(ctx, w.folderID); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("drive: folder sync failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("drive: watcher stopped")
			return
		case <-ticker.C:
		}
	}
}
