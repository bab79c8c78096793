/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	automixapi "github.com/friendsincode/automixengine/internal/automix/api"
	"github.com/friendsincode/automixengine/internal/automix/cache"
	"github.com/friendsincode/automixengine/internal/automix/gateway"
	"github.com/friendsincode/automixengine/internal/automix/natsbridge"
	"github.com/friendsincode/automixengine/internal/automix/scheduler"
	"github.com/friendsincode/automixengine/internal/automix/service"
	"github.com/friendsincode/automixengine/internal/automix/source"
	"github.com/friendsincode/automixengine/internal/config"
	"github.com/friendsincode/automixengine/internal/db"
	"github.com/friendsincode/automixengine/internal/events"
	"github.com/friendsincode/automixengine/internal/logging"
	"github.com/friendsincode/automixengine/internal/telemetry"
	"github.com/friendsincode/automixengine/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Environment)

	if !cfg.AutomixEnabled {
		logger.Fatal().Msg("GRIMNIR_AUTOMIX_ENABLED is false, refusing to start")
	}
	if cfg.AutomixMountID == "" {
		logger.Fatal().Msg("GRIMNIR_AUTOMIX_MOUNT_ID must be set")
	}

	logger.Info().Str("version", version.Version).Str("mount", cfg.AutomixMountID).Msg("AutoMix Engine starting")

	updateChecker := version.NewChecker(logger)
	updateChecker.Start(context.Background())
	defer updateChecker.Stop()

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "grimnir-automix-engine",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracer")
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	gormDB, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := cache.AutoMigrate(gormDB); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate analysis cache tables")
	}

	analysisCache := cache.New(gormDB, cache.Config{
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		FrontTTL:       cache.DefaultFrontTTL,
		DisableOnError: true,
	}, logger)
	defer func() {
		if err := analysisCache.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing analysis cache")
		}
	}()

	gw := gateway.New(cfg.AutomixAnalyserBin, logger)
	bus := events.NewBus()
	clock := func() time.Time { return time.Now() }
	sched := scheduler.New(clock, logger)

	playbackSource := source.New(gormDB, cfg.AutomixMountID, logger)

	svcCfg := service.DefaultConfig()
	svcCfg.AnalyzeWindowSec = cfg.AutomixAnalyzeWindow
	svcCfg.AnalyserBinPath = cfg.AutomixAnalyserBin

	svc := service.New(svcCfg, analysisCache, gw, sched, bus, playbackSource, logger)
	// The station's playout layer installs the live primary engine and a
	// factory for pending engines via svc.Pair()/svc.SetEngineFactory before
	// Run starts. Left unset here, every boundary degrades to a hard cut.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AutomixNATSURL != "" {
		bridge, err := natsbridge.New(cfg.AutomixNATSURL, cfg.AutomixMountID, bus, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to connect automix event fan-out to nats, continuing without it")
		} else {
			go bridge.Run(ctx)
			defer bridge.Close()
		}
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- svc.Run(ctx)
	}()

	router := chi.NewRouter()
	router.Mount("/automix", automixapi.New(svc, logger).Router())
	router.Handle("/metrics", telemetry.Handler())
	httpServer := &http.Server{
		Addr:    cfg.AutomixHTTPBind,
		Handler: router,
	}
	go func() {
		logger.Info().Str("addr", cfg.AutomixHTTPBind).Msg("automix debug HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("automix debug HTTP server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-runErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("automix engine run loop exited")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("automix debug HTTP server shutdown error")
	}

	logger.Info().Msg("AutoMix Engine stopped")
}
