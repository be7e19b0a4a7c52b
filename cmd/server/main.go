// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/placemat/internal/api"
	"github.com/tomtom215/placemat/internal/batcher"
	"github.com/tomtom215/placemat/internal/breaker"
	"github.com/tomtom215/placemat/internal/cache"
	"github.com/tomtom215/placemat/internal/config"
	"github.com/tomtom215/placemat/internal/integration"
	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/sources"
	"github.com/tomtom215/placemat/internal/supervisor"
	"github.com/tomtom215/placemat/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Logger())

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

//nolint:gocyclo // sequential wiring
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("cache_backend", cfg.Cache.Backend).
		Bool("batching", cfg.Batcher.Enabled).
		Msg("Starting Placemat with supervisor tree")

	adapters, err := sources.New(ctx, cfg.Sources)
	if err != nil {
		return fmt.Errorf("build source adapters: %w", err)
	}
	defer func() {
		if err := adapters.Close(context.Background()); err != nil {
			logging.Error().Err(err).Msg("Error closing source adapters")
		}
	}()
	for _, src := range adapters.All() {
		logging.Info().Str("source", src.Name()).Bool("configured", src.Configured()).Msg("Source adapter registered")
	}
	if len(adapters.Configured()) == 0 {
		logging.Warn().Msg("No source adapters configured; data endpoints will answer 503")
	}

	var store cache.Store
	if cfg.Cache.Enabled() {
		storeCfg := cfg.Cache.Store()
		store, err = cache.New(storeCfg)
		if err != nil && storeCfg.Backend != cache.BackendMemory {
			// A cache outage must not keep the API down.
			logging.Error().Err(err).Str("backend", storeCfg.Backend).Msg("Cache backend unavailable, falling back to memory")
			storeCfg.Backend = cache.BackendMemory
			store, err = cache.New(storeCfg)
		}
		if err != nil {
			return fmt.Errorf("initialize %s cache: %w", storeCfg.Backend, err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing cache")
			}
		}()
		logging.Info().Str("backend", storeCfg.Backend).Msg("Cache initialized")
	} else {
		logging.Warn().Msg("Cache disabled")
	}

	var batch *batcher.Batcher
	if cfg.Batcher.Enabled {
		batch = batcher.New(cfg.Batcher)
		defer batch.Close()
	}

	breakers := breaker.NewRegistry()
	svc := integration.New(cfg.Service(), integration.Dependencies{
		Sources:       adapters,
		Cache:         store,
		Breakers:      breakers,
		BreakerConfig: cfg.Breaker,
		Batcher:       batch,
	})

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if tiered, ok := store.(*cache.TieredStore); ok {
		tree.AddCacheService(tiered)
		logging.Info().Msg("Cache invalidation subscriber added to supervisor tree")
	}
	tree.AddMaintenanceService(breaker.NewMonitor(breakers, cfg.Breaker.HealthCheckInterval, sources.DefaultTimeout))
	if store != nil && cfg.Cache.WarmEnabled {
		tree.AddMaintenanceService(integration.NewWarmer(svc, cfg.Cache.WarmInterval))
		logging.Info().Dur("interval", cfg.Cache.WarmInterval).Msg("Cache warmer added to supervisor tree")
	}

	router := api.NewRouter(api.NewHandler(svc), cfg.API)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	if err := <-tree.ServeBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, s := range unstopped {
		logging.Warn().Str("service", s.Name).Msg("Service failed to stop within timeout")
	}
	return nil
}
