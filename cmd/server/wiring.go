package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/supplybalance/internal/cache"
	"github.com/andresuchdata/supplybalance/internal/config"
	"github.com/andresuchdata/supplybalance/internal/drive"
	"github.com/andresuchdata/supplybalance/internal/forecast"
	"github.com/andresuchdata/supplybalance/internal/ledger"
	"github.com/andresuchdata/supplybalance/internal/pipeline"
	"github.com/andresuchdata/supplybalance/internal/repository"
	"github.com/andresuchdata/supplybalance/internal/repository/postgres"
	"github.com/andresuchdata/supplybalance/internal/storage"
)

type driveFeed struct {
	handler *drive.Handler
	watcher *drive.Watcher
}

// dependencies are the backends selected by configuration
type dependencies struct {
	db           *postgres.DB
	ledger       ledger.Ledger
	forecasts    forecast.Store
	summaryCache cache.SummaryCache
	recorder     pipeline.RunRecorder
	listeners    []pipeline.SnapshotListener
	snapshotRepo *postgres.SnapshotRepository
	archiver     *storage.SnapshotArchiver
	drive        *driveFeed
}

func buildDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.Database.Enabled {
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		deps.db = db
		if err := db.Migrate(ctx); err != nil {
			deps.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		deps.recorder = pipeline.NewRepository(db.DB.DB)
		deps.snapshotRepo = postgres.NewSnapshotRepository(db, cfg.Aggregator.SnapshotRetain)
		deps.listeners = append(deps.listeners, deps.snapshotRepo)
	}

	l, err := openLedger(cfg.Ledger, deps.db)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.ledger = l

	if forecast.BackendType(cfg.Forecast.Backend) == forecast.BackendPostgres {
		if deps.db == nil {
			deps.Close()
			return nil, fmt.Errorf("forecast backend postgres requires DB_ENABLED")
		}
		deps.forecasts = postgres.NewForecastRepository(deps.db)
	} else {
		deps.forecasts = forecast.NewMemoryStore()
	}

	summaryCache, err := cache.NewSummaryCache(ctx, cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, summary cache disabled")
		summaryCache = cache.NewNoopSummaryCache()
	}
	deps.summaryCache = summaryCache
	deps.listeners = append(deps.listeners, summaryCache)

	if cfg.Storage.Enabled {
		client, err := storage.NewMinioClient(storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("object storage: %w", err)
		}
		deps.archiver = storage.NewSnapshotArchiver(client, cfg.Storage.Prefix)
		deps.listeners = append(deps.listeners, deps.archiver)
	}

	if cfg.Drive.Enabled {
		feed, err := buildDriveFeed(ctx, cfg.Drive, deps.ledger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.drive = feed
	}

	return deps, nil
}

func openLedger(cfg config.LedgerConfig, db *postgres.DB) (ledger.Ledger, error) {
	backend := ledger.BackendType(cfg.Backend)
	if backend == ledger.BackendPostgres {
		if db == nil {
			return nil, fmt.Errorf("ledger backend postgres requires DB_ENABLED")
		}
		return postgres.NewEventRepository(db), nil
	}
	return ledger.Open(backend, cfg.Path)
}

func buildDriveFeed(ctx context.Context, cfg config.DriveConfig, l ledger.Ledger) (*driveFeed, error) {
	var credentials []byte
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read drive credentials: %w", err)
		}
		credentials = data
	} else {
		credentials = []byte(os.Getenv("GOOGLE_DRIVE_CREDENTIALS_JSON"))
	}

	svc, err := drive.NewService(ctx, credentials)
	if err != nil {
		return nil, fmt.Errorf("drive: %w", err)
	}

	ingest := drive.NewIngestService(svc, l, cfg.DownloadDir)
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	return &driveFeed{
		handler: drive.NewHandler(svc, ingest, cfg.FolderID),
		watcher: drive.NewWatcher(ingest, cfg.FolderID, interval),
	}, nil
}

func (d *dependencies) snapshotLoaders() []repository.SnapshotLoader {
	var loaders []repository.SnapshotLoader
	if d.snapshotRepo != nil {
		loaders = append(loaders, d.snapshotRepo)
	}
	if d.archiver != nil {
		loaders = append(loaders, d.archiver)
	}
	return loaders
}

func (d *dependencies) Close() {
	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close ledger")
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
