package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/engsnap/internal/comparison"
	"github.com/rpattn/engsnap/internal/config"
	"github.com/rpattn/engsnap/internal/db"
	"github.com/rpattn/engsnap/internal/duplicates"
	"github.com/rpattn/engsnap/internal/export"
	"github.com/rpattn/engsnap/internal/logging"
	"github.com/rpattn/engsnap/internal/middleware"
	"github.com/rpattn/engsnap/internal/recordloader"
	"github.com/rpattn/engsnap/internal/repository"
	"github.com/rpattn/engsnap/internal/snapshot"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Server.LogMode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatalw("failed to connect to database", "error", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		logger.Fatalw("failed to run migrations", "error", err)
	}

	repo := repository.NewSnapshotRepository(conn.Pool)

	captureService := snapshot.NewService(repo, snapshot.WithLogger(logger))
	comparisonService := comparison.NewService(
		comparison.WithTolerance(cfg.Engine.DoubleTolerance),
		comparison.WithWorkers(cfg.Engine.Workers),
	)
	exportService := export.NewService(export.WithLogger(logger))

	// Each request gets its own batching loader; fall back to direct store
	// lookups when a handler runs without the middleware.
	directSource := recordloader.New(repo)
	duplicateSource := func(ctx context.Context) duplicates.RecordSource {
		if loader := middleware.RecordLoaderFromContext(ctx); loader != nil {
			return loader
		}
		return directSource
	}

	snapshotHandler := snapshot.NewHTTPHandler(captureService, repo)
	comparisonHandler := comparison.NewHTTPHandler(comparisonService, repo)
	duplicatesHandler := duplicates.NewHTTPHandler(duplicateSource,
		duplicates.WithNameFields(cfg.Engine.NameFields),
		duplicates.WithWorkers(cfg.Engine.Workers),
		duplicates.WithLogger(logger),
	)
	exportHandler := export.NewHTTPHandler(exportService, comparisonService, repo)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(
			middleware.LoggingMiddleware(logger)(
				middleware.RecordLoaderMiddleware(repo)(h),
			),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("/snapshots/", wrap(snapshotHandler))
	mux.Handle("/compare/", wrap(comparisonHandler))
	mux.Handle("/duplicates", wrap(duplicatesHandler))
	mux.Handle("/export/", wrap(exportHandler))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infow("starting server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infow("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalw("server forced to shutdown", "error", err)
	}
	logger.Infow("server exited")
}
