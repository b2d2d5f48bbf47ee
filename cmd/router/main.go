package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/pysugar/universal-ai-router/internal/config"
	"github.com/pysugar/universal-ai-router/internal/cost"
	"github.com/pysugar/universal-ai-router/internal/logging"
	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/proxy/handlers"
	"github.com/pysugar/universal-ai-router/internal/proxy/middleware"
	"github.com/pysugar/universal-ai-router/internal/ratelimit"
	"github.com/pysugar/universal-ai-router/internal/router"
	"github.com/pysugar/universal-ai-router/internal/safeop"
	"github.com/pysugar/universal-ai-router/internal/secrets"
	"github.com/pysugar/universal-ai-router/internal/upstream"
	"github.com/pysugar/universal-ai-router/internal/validation"
	"github.com/pysugar/universal-ai-router/internal/version"
	"github.com/pysugar/universal-ai-router/internal/wiring"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", os.Getenv("ROUTER_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Fatalf("Failed to load provider catalog: %v", err)
	}

	sec, err := secrets.New(ctx, cfg.Secrets.Source, cfg.Secrets.Region, cfg.Secrets.Prefix)
	if err != nil {
		logger.Fatalf("Failed to initialize secrets: %v", err)
	}
	estimator := upstream.CharEstimator{CharsPerToken: cfg.Router.CharsPerToken}
	registry := wiring.BuildRegistry(ctx, cat, sec, estimator, logger)

	store, storeCloser, err := wiring.OpenStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to open usage store: %v", err)
	}
	trackerOpts := []cost.Option{cost.WithLogger(logger)}
	if !cfg.Storage.AsyncWrites {
		trackerOpts = append(trackerOpts, cost.WithSyncWrites())
	}
	tracker := cost.NewTracker(store, cat, trackerOpts...)

	defaultTemp := cfg.Router.DefaultTemperature
	validator, err := validation.New(cat, validation.Options{
		DefaultProvider:    catalog.ProviderID(cfg.Router.DefaultProvider),
		DefaultTemperature: &defaultTemp,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		MaxPromptChars:     cfg.Router.MaxPromptChars,
	})
	if err != nil {
		logger.Fatalf("Failed to build request validator: %v", err)
	}

	limiter := ratelimit.New(cat)
	go limiter.Run(ctx, limiterSweepInterval, limiterIdleTTL)

	executor := safeop.New(safeop.Settings{
		FailureThreshold: cfg.Executor.FailureThreshold,
		Cooldown:         cfg.Executor.Cooldown,
	}, safeop.WithEventSink(safeop.LogSink{Logger: logger}))

	svc, err := router.New(router.Deps{
		Catalog:   cat,
		Validator: validator,
		Limiter:   limiter,
		Executor:  executor,
		Registry:  registry,
		Tracker:   tracker,
		Estimator: estimator,
		Policy: safeop.Policy{
			MaxRetries:     cfg.Executor.MaxRetries,
			Timeout:        cfg.Executor.Timeout,
			CostLimit:      cfg.Executor.CostLimit,
			InitialBackoff: cfg.Executor.InitialBackoff,
			MaxBackoff:     cfg.Executor.MaxBackoff,
			Jitter:         cfg.Executor.Jitter,
		},
		HighCostThreshold: cfg.Router.HighCostThreshold,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatalf("Failed to build router: %v", err)
	}

	// Create router
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	r.Get("/health", handlers.HealthHandler(svc))

	generate := handlers.GenerateHandler(svc, validator.MaxBodyBytes(), logger)
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.Server.APIKey))
		r.Post("/", generate)
		r.Post("/v1/generate", generate)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(log.Fields{
			"addr":      srv.Addr,
			"version":   version.String(),
			"providers": registry.IDs(),
			"storage":   cfg.Storage.Driver,
		}).Info("Universal AI Router starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-signalChan:
		logger.WithField("signal", s.String()).Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}
	cancel()

	tracker.Close()
	recorded, failed := tracker.Counters()
	if err := storeCloser.Close(); err != nil {
		logger.WithError(err).Error("Error closing usage store")
	}
	logger.WithFields(log.Fields{
		"usage_recorded": recorded,
		"usage_failed":   failed,
	}).Info("Shutdown complete")
}
