package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/config"
	"github.com/harmonia-player/harmonia/internal/downloads"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/handlers"
	"github.com/harmonia-player/harmonia/internal/httpclient"
	"github.com/harmonia-player/harmonia/internal/logger"
	"github.com/harmonia-player/harmonia/internal/mediacache"
	"github.com/harmonia-player/harmonia/internal/offline"
	"github.com/harmonia-player/harmonia/internal/quota"
	"github.com/harmonia-player/harmonia/internal/router"
	"github.com/harmonia-player/harmonia/internal/store"
	"github.com/harmonia-player/harmonia/internal/syncer"
)

const healthProbeInterval = 15 * time.Second

func main() {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := mediacache.New(cfg.CacheDir)
	if err != nil {
		appLogger.Error("Failed to open media cache", "error", err)
		os.Exit(1)
	}

	settingsRepo := store.NewSettingsRepo(db)
	session, err := auth.NewManager(settingsRepo)
	if err != nil {
		appLogger.Error("Failed to load session", "error", err)
		os.Exit(1)
	}

	emitter := events.NewEmitter()
	defer emitter.RemoveAll()

	// Network path and offline emulation share the one envelope protocol;
	// the request router decides per request which side answers.
	backend := httpclient.NewBackend(cfg.BackendURL, httpclient.NewClient(nil, 0), session, appLogger)
	emulator := offline.NewService(db, cache, session, emitter, appLogger)
	rtr := router.New(backend, emulator, session, emitter, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Out-of-band health probes drive reachability recovery.
	go func() {
		ticker := time.NewTicker(healthProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rtr.RecordHealth(backend.Healthy())
			}
		}
	}()

	syncSvc := syncer.NewService(db, syncer.NewHTTPRemote(backend), session, emitter, appLogger)
	syncSvc.SetReachableCheck(rtr.Reachable)
	syncSvc.Start(ctx)
	defer syncSvc.Stop()

	dlManager := downloads.NewManager(db, cache, backend, emitter, appLogger)
	dlManager.Start(ctx)
	defer dlManager.Stop()

	// Songs marked cached whose blobs went missing get re-queued.
	if err := dlManager.Reconcile(ctx); err != nil {
		appLogger.Warn("Cache reconcile failed", "error", err)
	}

	quotaMonitor := quota.NewMonitor(db, quota.NewCacheEstimator(cache, cfg.QuotaBytes))
	dlManager.SetQuotaCheck(func() bool {
		report, err := quotaMonitor.Report(ctx)
		if err != nil {
			return true
		}
		return report.Level != quota.LevelCritical
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := &handlers.Handler{
		Router:    rtr,
		DB:        db,
		Cache:     cache,
		Session:   session,
		Syncer:    syncSvc,
		Downloads: dlManager,
		Quota:     quotaMonitor,
		Streams:   backend,
		Log:       appLogger.WithComponent("http"),
	}
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exiting")
}
