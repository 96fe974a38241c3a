package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	httpx "github.com/utpal16raj09/PerformaMeter/internal/http"
	"github.com/utpal16raj09/PerformaMeter/internal/relay"
	"github.com/utpal16raj09/PerformaMeter/internal/ws"
	"github.com/utpal16raj09/PerformaMeter/pkg/config"
	"github.com/utpal16raj09/PerformaMeter/pkg/logger"
)

func main() {
	cfg := config.LoadRelayConfig()
	log := logger.NewWithFormat(os.Stdout, "relay", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid relay configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := relay.NewService(log, ws.NewHub(), relay.Options{
		Retention:         cfg.Retention,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Registerer:        prometheus.DefaultRegisterer,
	})

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, svc, limiter, httpx.Config{
		IngestRateLimit: cfg.IngestRateLimit,
		WSRateLimit:     cfg.WSRateLimit,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		AllowedOrigin:   cfg.AllowedOrigin,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("relay starting", "addr", cfg.Addr, "env", cfg.Environment, "retention", cfg.Retention)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("relay stopped")
}
