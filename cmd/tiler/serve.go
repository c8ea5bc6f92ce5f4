package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tilecore/internal/cache"
	"tilecore/internal/engine"
	httphandlers "tilecore/internal/http"
	"tilecore/internal/mapstore"
	"tilecore/internal/renderer"
	"tilecore/internal/tilecache"
	"tilecore/internal/tiler"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP tile server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	log.Info("Starting tile server",
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.String("engine", cfg.EngineURL),
	)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	tileCache, err := tilecache.NewCache(cfg.CacheType, cfg.CacheFileDir, cfg.CacheMemoryTiles, log)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	pool := cache.NewPool(cache.Options{
		MaxRenderers: cfg.RendererPoolSize,
		IdleTTL:      cfg.RendererIdleTTL,
	}, log)
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	pool.Start(poolCtx)
	go purgeExpired(poolCtx, store, cfg.MapConfigTTL, log)

	client := &http.Client{Timeout: cfg.FetchTimeout}
	factory := renderer.NewFactory(engine.NewHTTPEngine(cfg.EngineURL, cfg.EngineTimeout), client, log)

	svc := tiler.New(store, factory, pool, tileCache, tiler.Options{
		EngineTimeout: cfg.EngineTimeout,
		FetchTimeout:  cfg.FetchTimeout,
		MaxStaticSize: cfg.MaxStaticSize,
	}, log)
	defer func() {
		stopPool()
		if err := svc.Close(); err != nil {
			log.Warn("Failed to close service", zap.Error(err))
		}
	}()

	handlers := httphandlers.New(cfg, log, svc)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handlers.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
	return nil
}

// purgeExpired clears expired rows from stores without native expiry.
func purgeExpired(ctx context.Context, store *mapstore.Store, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.PurgeExpired(ctx); err != nil {
				log.Warn("Failed to purge expired map configurations", zap.Error(err))
			}
		}
	}
}
