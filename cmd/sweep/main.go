// Command sweep runs the periodic housekeeping pass: purge predictions past
// their validity window and deactivate alerts past their expiry. It is meant
// to run from an external scheduler (cron, systemd timer); the service's hot
// paths never delete.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-watch/internal/config"
	"github.com/couchcryptid/flood-watch/internal/observability"
	"github.com/couchcryptid/flood-watch/internal/predict"
	"github.com/couchcryptid/flood-watch/internal/propagate"
	"github.com/couchcryptid/flood-watch/internal/spatial"
	"github.com/couchcryptid/flood-watch/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	timeout := flag.Duration("timeout", 30*time.Second, "overall sweep deadline")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	engine := predict.New(store, store, store, store, nil, logger, metrics)
	propagator := propagate.New(store, store, store, spatial.New(store, logger), nil, logger, metrics)

	purged, err := engine.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	expired, err := propagator.ExpireAlerts(ctx)
	if err != nil {
		return err
	}

	log.Printf("sweep done: predictions purged=%d alerts deactivated=%d", purged, expired)
	return nil
}
