package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weathermapng/core-go/internal/appcfg"
	"weathermapng/core-go/internal/db"
	"weathermapng/core-go/internal/editor"
	"weathermapng/core-go/internal/httpapi"
	"weathermapng/core-go/internal/mapstore"
	"weathermapng/core-go/internal/metrics"
	"weathermapng/core-go/internal/render"
)

func main() {
	configPath := flag.String("config", os.Getenv("WM_CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		bootLogger := httpapi.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *db.Pool
	var store mapstore.Store
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
		store = mapstore.NewPGStore(p)
	} else {
		// No database: map metadata lives in memory, configs on disk.
		logger.Warn().Msg("DATABASE_URL not set, using in-memory map store")
		store = mapstore.NewMemStore()
	}

	if err := os.MkdirAll(cfg.MapConfigDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.MapConfigDir).Msg("failed to create config dir")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("failed to create output dir")
	}

	engine := editor.NewEngine(store, logger)
	service := editor.NewService(engine, store, cfg.MapConfigDir, cfg.OutputDir)
	cacheTTL := time.Duration(cfg.DatasourceCacheTTLSeconds) * time.Second
	registry := httpapi.NewSourceRegistry(store, cacheTTL)
	renders := render.NewManager(store, render.RasterRenderer{}, registry, cfg.OutputDir, logger)
	m := metrics.New()

	h := httpapi.NewHandler(logger, pool, store, service, renders, m, registry)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("core-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
