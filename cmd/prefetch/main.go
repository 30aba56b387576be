// prefetch downloads the configured dataset split into the local SQLite snapshot and, with
// INDEX_BACKEND=pgvector, syncs the memes table. Run it before starting the API so the first
// start skips the hub download. Set DATASET_REFRESH=true to re-download an existing snapshot.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rjadr/historymemes/internal/config"
	"github.com/rjadr/historymemes/internal/observability"
	"github.com/rjadr/historymemes/internal/repository"
	"github.com/rjadr/historymemes/internal/secrets"
	"github.com/rjadr/historymemes/internal/service"
	"github.com/rjadr/historymemes/pkg/database"
	"github.com/rjadr/historymemes/pkg/hub"
)

const (
	snapshotFile = "snapshots.db"
	exitSuccess  = 0
	exitFailure  = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := secrets.Resolve(ctx, cfg.HubToken, cfg.HubTokenSecret)
	if err != nil {
		slog.Error("Failed to read hub token", "error", err)

		return exitFailure
	}

	hubClient := hub.NewClientWithOptions(hub.ClientOptions{
		Endpoint:       cfg.HubEndpoint,
		DatasetsServer: cfg.HubDatasetsServer,
		Token:          token,
		RetryMax:       cfg.HubRetryMax,
		RateLimit:      cfg.HubRateLimit,
	})

	if _, err := hubClient.Login(ctx); err != nil {
		slog.Error("Hub login failed", "error", err)

		return exitFailure
	}

	db, err := database.NewSQLiteDB(ctx, filepath.Join(cfg.DatasetCacheDir, snapshotFile))
	if err != nil {
		slog.Error("Failed to open snapshot store", "error", err)

		return exitFailure
	}
	defer db.Close()

	snapshots, err := repository.NewSnapshotRepository(ctx, db)
	if err != nil {
		slog.Error("Failed to prepare snapshot store", "error", err)

		return exitFailure
	}

	var vectors service.MemesStore

	if cfg.IndexBackend == config.IndexBackendPgvector {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithPgvector())
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)

			return exitFailure
		}
		defer pool.Close()

		vectors = repository.NewMemesRepository(pool)
	}

	loader, err := service.NewDatasetLoader(service.DatasetLoaderParams{
		Hub:       hubClient,
		Snapshots: snapshots,
		Vectors:   vectors,
		Config:    cfg.DatasetConfig,
		Split:     cfg.DatasetSplit,
		PageSize:  cfg.HubPageSize,
		Refresh:   cfg.DatasetRefresh,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("Failed to create dataset loader", "error", err)

		return exitFailure
	}

	start := time.Now()

	ds, err := loader.Load(ctx, cfg.DatasetName)
	if err != nil {
		slog.Error("Prefetch failed", "dataset", cfg.DatasetName, "error", err)

		return exitFailure
	}

	info, err := snapshots.Info(ctx, ds.Ref())
	if err != nil {
		slog.Warn("Failed to read snapshot info", "error", err)
	} else {
		slog.Info("Snapshot stored", "rows", info.RowCount, "created_at", info.CreatedAt)
	}

	slog.Info("Prefetch complete", "dataset", cfg.DatasetName, "rows", ds.Len(), "index", cfg.IndexBackend,
		"duration", time.Since(start))

	fmt.Printf("Prefetched %d meme(s) from %s (%s/%s).\n", ds.Len(), cfg.DatasetName, cfg.DatasetConfig, cfg.DatasetSplit)

	return exitSuccess
}
