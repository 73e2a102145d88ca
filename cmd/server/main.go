package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"herdbook/internal/identity/handler"
	"herdbook/internal/platform/config"
	"herdbook/internal/platform/httpserver"
	"herdbook/internal/platform/logger"
	"herdbook/internal/platform/metrics"
	"herdbook/internal/ratelimit"
	ratelimitmw "herdbook/internal/ratelimit/middleware"
	"herdbook/internal/ratelimit/store/bucket"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	buckets := bucket.NewInMemoryBucketStore()
	limiter := ratelimitmw.New(buckets, log,
		ratelimitmw.WithLimit(ratelimit.ClassRead, ratelimit.Limit{Requests: cfg.RateLimit.IdentifyPerMinute, Window: time.Minute}),
		ratelimitmw.WithLimit(ratelimit.ClassWrite, ratelimit.Limit{Requests: cfg.RateLimit.RegisterPerMinute, Window: time.Minute}),
	)
	identity := handler.New(deps.service, log, metrics.New(), cfg.RequestTimeout, handler.WithRateLimiter(limiter))
	srv := httpserver.New(cfg.Addr, newRouter(identity, promhttp.Handler()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				buckets.Prune()
			}
		}
	})
	g.Go(func() error {
		log.Info("starting herdbook", "addr", cfg.Addr, "policy", cfg.Identity.MatchPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newRouter mounts probes and metrics beside the identity routes.
func newRouter(identity *handler.Handler, metricsHandler http.Handler) chi.Router {
	router := chi.NewRouter()
	router.Get("/healthz", handler.Health)
	router.Handle("/metrics", metricsHandler)
	identity.Register(router)
	return router
}
