package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/rjadr/historymemes/internal/api/handlers"
	"github.com/rjadr/historymemes/internal/api/middleware"
	"github.com/rjadr/historymemes/internal/clip"
	"github.com/rjadr/historymemes/internal/config"
	"github.com/rjadr/historymemes/internal/embeddings"
	"github.com/rjadr/historymemes/internal/models"
	"github.com/rjadr/historymemes/internal/observability"
	"github.com/rjadr/historymemes/internal/repository"
	"github.com/rjadr/historymemes/internal/secrets"
	"github.com/rjadr/historymemes/internal/service"
	"github.com/rjadr/historymemes/pkg/database"
	"github.com/rjadr/historymemes/pkg/hub"
)

const snapshotFile = "snapshots.db"

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	server         *http.Server
	loader         *service.DatasetLoader
	dataset        *service.ReadyDataset
	snapshotDB     *sql.DB
	pgPool         *pgxpool.Pool
	meterProvider  *observability.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// closer collects cleanup for partially built apps.
type closer []func()

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// NewApp authenticates against the hub, connects the stores and the embedding model,
// and builds the HTTP server. The dataset is loaded by Run.
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	var cleanup closer

	defer func() {
		if err != nil {
			cleanup.run()
		}
	}()

	app := &App{cfg: cfg, dataset: &service.ReadyDataset{}}

	app.meterProvider, err = observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create meter provider: %w", err)
	}

	if app.meterProvider == nil {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER is not prometheus)")
	} else {
		cleanup = append(cleanup, func() { logShutdownErr("meter provider", app.meterProvider.Shutdown(context.Background())) })
	}

	metrics, err := observability.NewMetrics(app.meterProvider.Meter())
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	app.tracerProvider, err = observability.NewTracerProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	if app.tracerProvider == nil {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		cleanup = append(cleanup, func() {
			logShutdownErr("tracer provider", observability.ShutdownTracerProvider(context.Background(), app.tracerProvider))
		})
	}

	hubClient, err := loginHub(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.snapshotDB, err = database.NewSQLiteDB(ctx, filepath.Join(cfg.DatasetCacheDir, snapshotFile))
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	cleanup = append(cleanup, func() { logShutdownErr("snapshot store", app.snapshotDB.Close()) })

	snapshots, err := repository.NewSnapshotRepository(ctx, app.snapshotDB)
	if err != nil {
		return nil, err
	}

	var vectors service.MemesStore

	if cfg.IndexBackend == config.IndexBackendPgvector {
		app.pgPool, err = database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithPgvector())
		if err != nil {
			return nil, err
		}

		cleanup = append(cleanup, app.pgPool.Close)
		vectors = repository.NewMemesRepository(app.pgPool)
	}

	model, err := newEmbeddingClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		searchMetrics observability.SearchMetrics
		cacheMetrics  observability.CacheMetrics
		apiMetrics    observability.APIMetrics
	)
	if metrics != nil {
		searchMetrics, cacheMetrics, apiMetrics = metrics.Search, metrics.Cache, metrics.API
	}

	embedder, err := service.NewEmbeddingService(service.EmbeddingServiceParams{
		Client:       model,
		CacheSize:    cfg.EmbeddingCacheSize,
		Metrics:      searchMetrics,
		CacheMetrics: cacheMetrics,
		Logger:       slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	app.loader, err = service.NewDatasetLoader(service.DatasetLoaderParams{
		Hub:          hubClient,
		Snapshots:    snapshots,
		Vectors:      vectors,
		Config:       cfg.DatasetConfig,
		Split:        cfg.DatasetSplit,
		PageSize:     cfg.HubPageSize,
		Refresh:      cfg.DatasetRefresh,
		Metrics:      searchMetrics,
		CacheMetrics: cacheMetrics,
		Logger:       slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	searchService := service.NewSearchService(service.SearchServiceParams{
		Embedder: embedder,
		Dataset:  app.dataset,
		Metrics:  searchMetrics,
		Logger:   slog.Default(),
	})

	imageService := service.NewImageService(service.ImageServiceParams{
		Hub:          hubClient,
		Dataset:      app.dataset,
		Ref:          hub.DatasetRef{Name: cfg.DatasetName, Config: cfg.DatasetConfig, Split: cfg.DatasetSplit},
		Snapshots:    snapshots,
		CacheSize:    cfg.ImageCacheSize,
		CacheTTL:     cfg.ImageCacheTTL,
		Metrics:      searchMetrics,
		CacheMetrics: cacheMetrics,
		Logger:       slog.Default(),
	})

	app.server = newHTTPServer(cfg, routes{
		health: handlers.NewHealthHandler(app.dataset),
		ui:     handlers.NewUIHandler(searchService, app.dataset, imageURL),
		search: handlers.NewSearchHandler(searchService, imageURL),
		images: handlers.NewImageHandler(imageService),
		ready:  app.dataset,
	}, app.meterProvider, app.tracerProvider, apiMetrics)

	return app, nil
}

func imageURL(m *models.Meme) string {
	return handlers.ImageURL(m.RowIdx)
}

// loginHub resolves the token (env or Secret Manager) and authenticates against the hub.
func loginHub(ctx context.Context, cfg *config.Config) (*hub.Client, error) {
	token, err := secrets.Resolve(ctx, cfg.HubToken, cfg.HubTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("read hub token: %w", err)
	}

	client := hub.NewClientWithOptions(hub.ClientOptions{
		Endpoint:       cfg.HubEndpoint,
		DatasetsServer: cfg.HubDatasetsServer,
		Token:          token,
		RetryMax:       cfg.HubRetryMax,
		RateLimit:      cfg.HubRateLimit,
	})

	who, err := client.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("hub login: %w", err)
	}

	slog.Info("Logged in to the hub", "user", who.Name, "endpoint", cfg.HubEndpoint)

	return client, nil
}

// newEmbeddingClient connects to the CLIP container, or returns the deterministic mock
// when EMBEDDING_MODEL=mock.
func newEmbeddingClient(ctx context.Context, cfg *config.Config) (embeddings.Client, error) {
	if cfg.EmbeddingModel == embeddings.ModelMock {
		slog.Warn("using mock embedding model: results are not semantically meaningful")

		return embeddings.NewMockClient(), nil
	}

	client, err := clip.Load(ctx, cfg.CLIPInferenceURL, cfg.EmbeddingModel, clip.WithRetryMax(cfg.HubRetryMax))
	if err != nil {
		return nil, fmt.Errorf("load embedding model: %w", err)
	}

	return client, nil
}

type routes struct {
	health *handlers.HealthHandler
	ui     *handlers.UIHandler
	search *handlers.SearchHandler
	images *handlers.ImageHandler
	ready  middleware.ReadinessChecker
}

// newHTTPServer builds the muxes: UI, probes and /metrics are public, /v1/ needs the API key,
// /v1/ and /images/ wait for the dataset.
// Handler chain: RequestID -> Metrics -> otelhttp -> Logging -> MaxBody -> mux.
func newHTTPServer(
	cfg *config.Config,
	r routes,
	meterProvider *observability.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
	apiMetrics observability.APIMetrics,
) *http.Server {
	requireReady := middleware.RequireReady(r.ready)

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/search", r.search.Search)
	api.HandleFunc("POST /v1/search/image", r.search.SearchImage)

	images := http.NewServeMux()
	images.HandleFunc("GET "+handlers.ImagePathPrefix+"{row}", r.images.Get)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", r.health.Check)
	mux.HandleFunc("GET /ready", r.health.Ready)
	mux.HandleFunc("GET /{$}", r.ui.Page)
	mux.HandleFunc("POST /{$}", r.ui.Page)
	mux.Handle("/v1/", middleware.Auth(cfg.APIKey)(requireReady(api)))
	mux.Handle(handlers.ImagePathPrefix, requireReady(images))

	if meterProvider != nil {
		mux.Handle("GET /metrics", meterProvider.Handler())
	}

	otelOpts := []otelhttp.Option{
		// Skip tracing for probes and scrapes.
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				return false
			default:
				return true
			}
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider.Provider()))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	var recorder middleware.RequestBodyTooLargeRecorder
	if apiMetrics != nil {
		recorder = apiMetrics
	}

	// Logging runs inside otelhttp so access logs carry trace_id/span_id.
	inner := middleware.Logging(middleware.MaxBody(cfg.MaxUploadBytes, recorder)(mux))
	handler := otelhttp.NewHandler(inner, "historymemes", otelOpts...)
	handler = middleware.Metrics(apiMetrics)(handler)
	handler = middleware.RequestID(handler)

	const (
		readTimeout  = 30 * time.Second
		writeTimeout = 60 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// Run starts the HTTP server and loads the dataset in the background, then blocks until ctx
// is cancelled or a component fails. A failed dataset load is fatal.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 2)

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr <- fmt.Errorf("server: %w", err)
		}
	}()

	go func() {
		slog.Info("Loading dataset. This could take a while...", "dataset", a.cfg.DatasetName)

		ds, err := a.loader.Load(ctx, a.cfg.DatasetName)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				runErr <- fmt.Errorf("load dataset: %w", err)
			}

			return
		}

		a.dataset.Set(ds)
		slog.Info("Ready to serve searches", "dataset", a.cfg.DatasetName, "rows", ds.Len())
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops the server, closes the stores and flushes telemetry. Call after Run returns.
// Secondary errors are logged; the first one is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var first error

	keep := func(name string, err error) {
		if err == nil {
			return
		}

		if first == nil {
			first = fmt.Errorf("%s: %w", name, err)
		} else {
			logShutdownErr(name, err)
		}
	}

	if err := a.server.Shutdown(ctx); !errors.Is(err, http.ErrServerClosed) {
		keep("server shutdown", err)
	}

	if a.pgPool != nil {
		a.pgPool.Close()
	}

	keep("snapshot store", a.snapshotDB.Close())
	keep("tracer provider", observability.ShutdownTracerProvider(ctx, a.tracerProvider))
	keep("meter provider", a.meterProvider.Shutdown(ctx))

	return first
}

func logShutdownErr(name string, err error) {
	if err != nil {
		slog.Error("shutdown "+name, "error", err)
	}
}
