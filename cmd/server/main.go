package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zyliufeng123/zhiguan-system/internal/catalog"
	"github.com/zyliufeng123/zhiguan-system/internal/config"
	"github.com/zyliufeng123/zhiguan-system/internal/db"
	"github.com/zyliufeng123/zhiguan-system/internal/importer"
	"github.com/zyliufeng123/zhiguan-system/internal/middleware"
	"github.com/zyliufeng123/zhiguan-system/internal/repository"
	"github.com/zyliufeng123/zhiguan-system/internal/staging"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(".")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.RunMigrations(ctx, conn.Pool, cfg.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	productRepo := repository.NewProductRepository(conn.Pool)
	priceRepo := repository.NewPriceRepository(conn.Pool)
	taskRepo := repository.NewTaskRepository(conn.Pool)

	store, err := staging.NewStore(cfg.StagingDir)
	if err != nil {
		logger.Fatal("failed to create staging store", zap.Error(err))
	}

	matcher := catalog.NewProductMatcher(productRepo, nil)
	runner := importer.NewRunner(cfg.ImportWorkers, cfg.ImportQueue, logger)
	service := importer.NewService(productRepo, priceRepo, taskRepo, matcher, store, runner, logger)

	// Periodically drop staged uploads nobody imported.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := store.Sweep(cfg.StagingTTL); n > 0 {
					logger.Info("swept stale staged files", zap.Int("removed", n))
				}
			case <-sweepDone:
				return
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	importer.NewHTTPHandler(service, store, logger).Register(r)
	catalog.NewHTTPHandler(productRepo, priceRepo, logger).Register(r)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      corsHandler.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Let queued import tasks drain before the pool goes away.
	close(sweepDone)
	runner.Close()

	logger.Info("server exited")
}
