// Command importroads loads a road-network JSON file into the segment store,
// chunking the rows so each batch stays well under single-call store limits.
// It can also drive the spatial-field backfill for segments imported before
// the grid index existed, and clear the network entirely.
//
// Usage:
//
//	go run ./cmd/importroads -file data/naga_roads.json
//	go run ./cmd/importroads -migrate
//	go run ./cmd/importroads -clear
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-watch/internal/config"
	"github.com/couchcryptid/flood-watch/internal/observability"
	"github.com/couchcryptid/flood-watch/internal/spatial"
	"github.com/couchcryptid/flood-watch/internal/store/postgres"
)

const chunkSize = 500

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	file := flag.String("file", "", "path to JSON array of road segments to import")
	migrate := flag.Bool("migrate", false, "backfill spatial fields for segments missing them")
	clear := flag.Bool("clear", false, "delete every road segment")
	pageSize := flag.Int("page-size", 200, "migration page size")
	flag.Parse()

	if *file == "" && !*migrate && !*clear {
		flag.Usage()
		return fmt.Errorf("nothing to do: pass -file, -migrate, or -clear")
	}

	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	svc := spatial.New(store, observability.NewLogger(cfg))

	if *clear {
		n, err := svc.ClearAll(ctx)
		if err != nil {
			return err
		}
		log.Printf("cleared %d segments", n)
	}

	if *file != "" {
		if err := importFile(ctx, svc, *file); err != nil {
			return err
		}
	}

	if *migrate {
		if err := runMigration(ctx, svc, *pageSize); err != nil {
			return err
		}
	}

	return nil
}

func importFile(ctx context.Context, svc *spatial.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var inputs []spatial.SegmentInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	log.Printf("importing %d segments from %s", len(inputs), path)

	total := spatial.ImportResult{}
	for start := 0; start < len(inputs); start += chunkSize {
		end := min(start+chunkSize, len(inputs))
		res, err := svc.BulkImport(ctx, inputs[start:end])
		if err != nil {
			return fmt.Errorf("import chunk at %d: %w", start, err)
		}
		total.Imported += res.Imported
		total.Skipped += res.Skipped
		total.Total += res.Total
		log.Printf("chunk %d-%d: imported=%d skipped=%d", start, end, res.Imported, res.Skipped)
	}

	log.Printf("done: imported=%d skipped=%d total=%d", total.Imported, total.Skipped, total.Total)
	return nil
}

func runMigration(ctx context.Context, svc *spatial.Service, pageSize int) error {
	cursor := ""
	updated, skipped, pages := 0, 0, 0
	for {
		res, err := svc.MigrateSpatialFields(ctx, cursor, pageSize)
		if err != nil {
			return fmt.Errorf("migration page %d: %w", pages, err)
		}
		updated += res.Updated
		skipped += res.Skipped
		pages++
		if res.IsDone {
			break
		}
		cursor = res.ContinueCursor
	}
	log.Printf("migration done: pages=%d updated=%d skipped=%d", pages, updated, skipped)
	return nil
}
