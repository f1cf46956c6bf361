package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"guardiaswap/api/internal/app"
	"guardiaswap/api/internal/backend"
	"guardiaswap/api/internal/backup"
	"guardiaswap/api/internal/config"
	"guardiaswap/api/internal/export"
	"guardiaswap/api/internal/metrics"
	"guardiaswap/api/internal/search"
	"guardiaswap/api/internal/store"
	"guardiaswap/api/internal/watch"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if cfg.BackendErr != nil {
		log.Printf("WARNING: %v; starting in degraded mode", cfg.BackendErr)
	}

	manager := backend.NewManager(cfg)
	conn, err := manager.Get(ctx)
	if err != nil {
		log.Fatalf("backend connection failed: %v", err)
	}
	defer conn.Close()

	var hub *watch.Hub
	var searchService *search.Service
	opts := app.Options{Metrics: metrics.NewCollector(), Exporter: export.NewService()}

	if conn.Available() {
		if err := store.ApplyMigrations(ctx, conn.DB(), cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		hub = watch.NewHub(conn.Shifts(), conn.Redis())
		hub.Start(ctx)
		defer hub.Stop()

		var meiliClient *search.Meili
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meiliClient.Close()
		}
		searchService = search.NewService(meiliClient, search.NewPgSearch(conn.DB()))
		opts.Searcher = searchService

		if strings.TrimSpace(cfg.BackupEndpoint) != "" && conn.Backend().StorageBucket != "" {
			archiver, err := backup.NewService(cfg.BackupEndpoint, cfg.BackupAccessKey, cfg.BackupSecretKey, cfg.BackupUseSSL, conn.Backend().StorageBucket)
			if err != nil {
				log.Printf("WARNING: backup storage unavailable: %v", err)
			} else {
				opts.Archiver = archiver
			}
		}
	} else {
		hub = watch.NewDisabledHub()
	}

	service := app.NewService(cfg, conn, hub, opts)
	service.BackfillSearch(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No global write deadline: the snapshot stream holds its
		// response open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("GuardiaSwap API listening on %s (gate mode %s)", cfg.Addr, cfg.GateMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
