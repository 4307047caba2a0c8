package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/flood-watch/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flood-watch/internal/adapter/kafka"
	"github.com/couchcryptid/flood-watch/internal/adapter/weather"
	"github.com/couchcryptid/flood-watch/internal/config"
	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/ingest"
	"github.com/couchcryptid/flood-watch/internal/observability"
	"github.com/couchcryptid/flood-watch/internal/predict"
	"github.com/couchcryptid/flood-watch/internal/propagate"
	"github.com/couchcryptid/flood-watch/internal/spatial"
	"github.com/couchcryptid/flood-watch/internal/store/memory"
	"github.com/couchcryptid/flood-watch/internal/store/postgres"
)

// dataStore is the full persistence surface the service runs against. Both
// backends implement every collection.
type dataStore interface {
	domain.SegmentStore
	domain.DeviceStore
	domain.ReadingStore
	domain.PredictionStore
	domain.AlertStore
	domain.WeatherStore

	Health(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: PostgreSQL when configured, in-memory otherwise.
	var store dataStore
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := postgres.NewStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		store = pg
		logger.Info("using postgres storage")
	} else {
		store = memory.NewStore()
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	spatialSvc := spatial.New(store, logger)

	writer := kafkaadapter.NewWriter(cfg, logger)
	propagator := propagate.New(store, store, store, spatialSvc, writer, logger, metrics)
	engine := predict.New(store, store, store, store, propagator, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	pipeline := ingest.New(reader, store, store, engine, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, pipeline, store, logger)

	// Weather poller (feature-flagged via WEATHER_ENABLED / WEATHER_API_KEY).
	if cfg.WeatherEnabled {
		client := weather.NewClient(cfg.WeatherAPIKey, cfg.StationLat, cfg.StationLng, cfg.WeatherTimeout, metrics, logger)
		poller := weather.NewPoller(client, store, cfg.WeatherPollInterval, logger)
		metrics.WeatherEnabled.Set(1)
		logger.Info("weather polling enabled", "interval", cfg.WeatherPollInterval)
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("weather poller error", "error", err)
			}
		}()
	} else {
		metrics.WeatherEnabled.Set(0)
		logger.Info("weather polling disabled")
	}

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingest pipeline.
	go func() {
		if err := pipeline.Run(ctx); err != nil {
			logger.Error("ingest pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
