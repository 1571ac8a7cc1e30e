package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"media-archive/internal/cache"
	"media-archive/internal/contentstore"
	"media-archive/internal/database"
	"media-archive/internal/derivative"
	"media-archive/internal/extractor"
	"media-archive/internal/filesystem"
	"media-archive/internal/handlers"
	"media-archive/internal/ingest"
	"media-archive/internal/logging"
	"media-archive/internal/memory"
	"media-archive/internal/metrics"
	"media-archive/internal/middleware"
	"media-archive/internal/sidecar"
	"media-archive/internal/startup"
	"media-archive/internal/workers"
)

// app holds everything that has to be stopped on shutdown, in order.
type app struct {
	srv       *http.Server
	metrics   *http.Server
	coord     *ingest.Coordinator
	cache     *cache.Engine
	monitor   *memory.Monitor
	collector *metrics.Collector
	db        *database.Database
	stopped   chan struct{}
}

func main() {
	startTime := time.Now()

	memResult := memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(
		filesystem.Volume{Name: "archive", Path: config.ArchiveDir},
		filesystem.Volume{Name: "database", Path: config.DatabaseDir},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbStart := time.Now()
	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	store, err := contentstore.New(config.ArchiveDir)
	if err != nil {
		startup.LogFatal("Failed to open content store: %v", err)
	}

	vips := true
	if err := derivative.InitVips(); err != nil {
		logging.Warn("libvips unavailable, using Go decoders: %v", err)
		vips = false
	} else {
		defer derivative.ShutdownVips()
	}
	startup.LogArchiveInit(config, vips)
	tools := startup.CheckTools(ctx, config)

	ext := extractor.New(config.Extractor())
	gen := derivative.New(config.Derivative(), store, ext)
	sidecars := sidecar.New(db, store, ext, workers.ForIO(8))

	memCfg := memory.DefaultConfig()
	if memResult.Configured {
		memCfg.MemoryLimitBytes = memResult.GoMemLimit
	}
	monitor := memory.NewMonitor(memCfg)

	coord, err := ingest.New(ingest.Deps{
		DB:        db,
		Store:     store,
		Extractor: ext,
		Generator: gen,
		Sidecars:  sidecars,
		Monitor:   monitor,
	}, ingest.Config{
		Workers:   config.IngestWorkers,
		Retention: ingest.DefaultConfig().Retention,
	})
	if err != nil {
		startup.LogFatal("Failed to start ingest: %v", err)
	}

	engine := cache.New(cache.Config{
		BudgetBytes:    int64(config.CacheBudget),
		PreloadWorkers: config.PreloadWorkers,
	}, cache.StoreLoader{Store: store, Index: db})

	// Shed half the cache when the heap nears its limit, before ingest
	// has to pause.
	monitor.OnPressure(func(usage float64) {
		if n := engine.Shrink(0.5); n > 0 {
			logging.Info("Memory at %.0f%%: evicted %d cache entries", usage*100, n)
		}
	})
	monitor.Start()
	startup.LogIngestInit(coord.Workers(), uint64(config.CacheBudget), config.PreloadWorkers)

	collector := metrics.NewCollector(func(ctx context.Context) (metrics.Stats, error) {
		db.UpdateDBMetrics()
		s, err := db.Stats(ctx)
		return metrics.Stats{
			Images:          s.Images,
			Videos:          s.Videos,
			Documents:       s.Documents,
			TotalBytes:      s.TotalBytes,
			PendingSidecars: s.PendingSidecars,
		}, err
	}, time.Minute)
	collector.Start()

	h := handlers.New(handlers.Deps{
		DB:       db,
		Store:    store,
		Ingest:   coord,
		Sidecars: sidecars,
		Cache:    engine,
		Monitor:  monitor,
		Tools:    tools,
	})

	router := h.Router()
	router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.RequestID(
		middleware.Logger(loggingConfig)(
			middleware.Compression(middleware.DefaultCompressionConfig())(router)))

	a := &app{
		srv: &http.Server{
			Addr:        ":" + config.Port,
			Handler:     handler,
			ReadTimeout: 15 * time.Second,
			// Event streams and large originals outlive any fixed write deadline.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		coord:     coord,
		cache:     engine,
		monitor:   monitor,
		collector: collector,
		db:        db,
		stopped:   make(chan struct{}),
	}

	if config.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h.MetricsHandler())
		a.metrics = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	go recoverOnStartup(ctx, sidecars, store, h)

	go func() {
		<-ctx.Done()
		a.shutdown()
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-a.stopped
}

// recoverOnStartup finishes work a crash may have interrupted: sidecar
// writes left pending and temp files left in the store. The service
// reports ready once it is done.
func recoverOnStartup(ctx context.Context, sidecars *sidecar.Reconciler, store *contentstore.Store, h *handlers.Handlers) {
	defer h.SetReady(true)

	if n, err := store.CleanTemp(time.Hour); err != nil {
		logging.Warn("Temp cleanup failed: %v", err)
	} else if n > 0 {
		logging.Info("Removed %d stale temp files", n)
	}

	digests, err := sidecars.Unsynced(ctx)
	if err != nil {
		logging.Warn("Listing unsynced sidecars failed: %v", err)
		return
	}
	if len(digests) == 0 {
		return
	}
	logging.Info("Reconciling %d sidecars left unsynced", len(digests))
	if _, err := sidecars.ReconcileAll(ctx, digests); err != nil {
		logging.Warn("Startup reconcile incomplete: %v", err)
	}
}

func (a *app) shutdown() {
	defer close(a.stopped)
	startup.LogShutdownInitiated("signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := a.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownStep("Cancelling import sessions")
	a.coord.Close()
	startup.LogShutdownStepComplete("Ingest stopped")

	a.cache.Close()
	a.collector.Stop()
	a.monitor.Stop()

	startup.LogShutdownStep("Closing database")
	if err := a.db.Close(); err != nil {
		logging.Warn("Database close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Database closed")
	}

	startup.LogShutdownComplete()
}
