package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/supplybalance/internal/api"
	"github.com/andresuchdata/supplybalance/internal/config"
	"github.com/andresuchdata/supplybalance/internal/pipeline"
	"github.com/andresuchdata/supplybalance/internal/repository"
	"github.com/andresuchdata/supplybalance/internal/service"
	"github.com/andresuchdata/supplybalance/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDependencies(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}
	defer deps.Close()

	snapshots := pipeline.NewSnapshotStore()
	if _, err := repository.RestoreLatest(ctx, snapshots, deps.snapshotLoaders()...); err != nil {
		logger.Log.Warn().Err(err).Msg("Snapshot restore failed, serving 503 until the first run")
	}

	pipelineCfg := pipeline.Config{
		Interval:       cfg.Aggregator.Interval(),
		MaxRunDuration: cfg.Aggregator.MaxRunDuration(),
		WorkerCount:    cfg.Aggregator.Workers,
	}
	aggregator := pipeline.NewAggregator(deps.ledger, snapshots, pipelineCfg,
		pipeline.WithRecorder(deps.recorder),
		pipeline.WithListeners(deps.listeners...),
	)

	services := &api.Services{
		Metrics: service.NewMetricsService(snapshots, deps.forecasts, deps.summaryCache, service.MetricsOptions{
			StaleAfter:     pipelineCfg.StaleAfter(),
			AlertThreshold: decimal.NewFromFloat(cfg.Alerts.DOHThreshold),
		}),
		Forecasts:  service.NewForecastService(deps.forecasts, nil),
		Events:     service.NewEventService(deps.ledger),
		Aggregator: aggregator,
	}
	if deps.drive != nil {
		services.Drive = deps.drive.handler.Router(api.DrivePrefix)
		go deps.drive.watcher.Start(ctx)
	}

	go aggregator.Start(ctx)

	router := api.NewRouter(services, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().
			Str("port", cfg.Server.Port).
			Str("ledger", cfg.Ledger.Backend).
			Str("forecasts", cfg.Forecast.Backend).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("Server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
