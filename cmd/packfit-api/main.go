// Package main provides the packfit compute API entry point.
// Serves dispensing computations backed by the RxNorm and openFDA NDC
// upstreams.
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rxops/packfit/internal/api/handlers"
	"github.com/rxops/packfit/internal/api/middleware"
	"github.com/rxops/packfit/internal/config"
	"github.com/rxops/packfit/internal/ndc"
	"github.com/rxops/packfit/internal/observability/metrics"
	"github.com/rxops/packfit/internal/observability/tracing"
	"github.com/rxops/packfit/internal/packselect"
	"github.com/rxops/packfit/internal/pipeline"
	"github.com/rxops/packfit/internal/rxnorm"
	"github.com/rxops/packfit/internal/sig"
	"github.com/rxops/packfit/internal/upstream"
	"github.com/rxops/packfit/pkg/cache"
	"github.com/rxops/packfit/pkg/circuitbreaker"
	"github.com/rxops/packfit/pkg/ratelimit"

	"github.com/shopspring/decimal"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}

	// Tracing is optional; without an endpoint the global no-op
	// provider stays in place.
	if cfg.OTLPEndpoint != "" {
		tcfg := tracing.DefaultConfig("packfit-api")
		tcfg.OTLPEndpoint = cfg.OTLPEndpoint
		provider, err := tracing.Init(context.Background(), tcfg)
		if err != nil {
			logger.Fatal("tracing init failed", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			provider.Shutdown(ctx)
		}()
	}

	m := metrics.New()

	// Process-wide resilience singletons, one set per upstream. They
	// live for the process lifetime; no teardown needed.
	rxnormLimiter := ratelimit.New(cfg.RxNormRateLimit, cfg.RxNormRateWindow)
	ndcLimiter := ratelimit.New(cfg.NDCRateLimit, cfg.NDCRateWindow)

	rxnormBreaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("rxnorm"), logger)
	if err != nil {
		logger.Fatal("rxnorm breaker init failed", zap.Error(err))
	}
	ndcBreaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("ndc"), logger)
	if err != nil {
		logger.Fatal("ndc breaker init failed", zap.Error(err))
	}

	callerCfg := func(name string) upstream.Config {
		c := upstream.DefaultConfig(name)
		c.Timeout = cfg.UpstreamTimeout
		return c
	}

	rxnormCache := cache.New[rxnorm.Resolution](cache.Config{
		Capacity: cfg.CacheCapacity,
		TTL:      cfg.RxNormTTL,
		MaxStale: cfg.MaxStale,
	})
	ndcCache := cache.New[ndc.Catalog](cache.Config{
		Capacity: cfg.CacheCapacity,
		TTL:      cfg.NDCTTL,
		MaxStale: cfg.MaxStale,
	})

	drugClient := rxnorm.New(cfg.RxNormBaseURL,
		upstream.New(callerCfg("rxnorm"), rxnormLimiter, rxnormBreaker, m, logger),
		rxnormCache, m, logger)
	packageClient := ndc.New(cfg.NDCBaseURL,
		upstream.New(callerCfg("ndc"), ndcLimiter, ndcBreaker, m, logger),
		ndcCache, m, logger)

	var interpreter sig.Interpreter
	if cfg.SigFallbackEnabled {
		interpreter = sig.NewLLMInterpreter(sig.LLMConfig{
			URL:     cfg.SigFallbackURL,
			Model:   cfg.SigFallbackModel,
			APIKey:  cfg.SigFallbackAPIKey,
			Timeout: cfg.UpstreamTimeout,
		}, logger)
		logger.Info("sig fallback interpreter enabled", zap.String("model", cfg.SigFallbackModel))
	}
	parser := sig.NewParser(interpreter, m, logger)

	policy := packselect.Policy{
		MaxOverfillPct: decimal.NewFromFloat(cfg.MaxOverfillPct),
		MaxPacks:       cfg.MaxPacks,
	}

	pipe := pipeline.New(drugClient, packageClient, parser, policy, cfg.RequestBudget, m, logger)
	computeHandler := handlers.NewComputeHandler(pipe, m, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("packfit-api"))

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/compute", computeHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestBudget + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting packfit API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"packfit-api","version":"1.0.0"}`)
}
