package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docshare/convertd/config"
	"github.com/docshare/convertd/internal/adapter/docrepo/localdir"
	HTTPAdapter "github.com/docshare/convertd/internal/adapter/http"
	"github.com/docshare/convertd/internal/adapter/objectstore/localfs"
	"github.com/docshare/convertd/internal/adapter/pdfinfo"
	"github.com/docshare/convertd/internal/adapter/raster/pdftoppm"
	"github.com/docshare/convertd/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/docshare/convertd/internal/adapter/storage/sqlite"
	"github.com/docshare/convertd/internal/infrastructure/logger"
	"github.com/docshare/convertd/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger.Info.Printf("starting convertd, data=%s workers=%d", cfg.DataDir, cfg.Workers)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error.Printf("failed to create data directory: %v", err)
		os.Exit(1)
	}

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error.Printf("failed to open store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	objectsRoot := filepath.Join(cfg.DataDir, "objects")
	objects, err := localfs.NewStore(objectsRoot, []byte(cfg.SigningSecret))
	if err != nil {
		logger.Error.Printf("failed to open object store: %v", err)
		os.Exit(1)
	}

	history, err := jsonfile.NewHistoryStore(cfg.DataDir, cfg.HistoryWindow)
	if err != nil {
		logger.Error.Printf("failed to open conversion history: %v", err)
		os.Exit(1)
	}

	jobs := sqlitestore.NewJobStore(store)
	pageCache := sqlitestore.NewPageCache(store, cfg.PageTTL)
	documents := localdir.NewRepository(objectsRoot)
	estimator := service.NewEstimator(history, cfg.MinETA, cfg.MaxETA)
	eventBus := service.NewEventBus()

	converter := service.NewConverter(
		objects,
		pdftoppm.NewRasterizer(cfg.PdftoppmPath),
		pdfinfo.NewInspector(),
		cfg.ScratchDir,
		cfg.SignedURLTTL,
	)

	manager := service.NewJobManager(service.ManagerConfig{
		Workers:        cfg.Workers,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		JobTimeout:     cfg.JobTimeout,
		PollInterval:   cfg.PollInterval,
		MetricsWindow:  cfg.MetricsWindow,
		DPI:            cfg.RasterDPI,
	}, jobs, pageCache, documents, converter, estimator, eventBus)

	pageSvc := service.NewPageService(pageCache)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if err := manager.Start(workerCtx); err != nil {
		logger.Error.Printf("failed to start job manager: %v", err)
		os.Exit(1)
	}

	if err := pageSvc.StartMaintenance(workerCtx); err != nil {
		logger.Error.Printf("failed to start maintenance: %v", err)
		os.Exit(1)
	}
	defer pageSvc.StopMaintenance()

	server := HTTPAdapter.NewServer(manager, pageSvc, objects, eventBus)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown: stop intake, let in-flight pages finish.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info.Printf("received %s, shutting down", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("http shutdown error: %v", err)
		}

		workerCancel()
		manager.Wait()

		logger.Info.Printf("shutdown complete")
	}()

	logger.Info.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error.Printf("server failed: %v", err)
		os.Exit(1)
	}
}
