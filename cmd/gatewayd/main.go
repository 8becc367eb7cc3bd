// gatewayd fronts the professional-network API for in-process workers that
// must never exceed the provider quota. It exposes the upstream's read
// surface (/v2/search, /v2/profile/{id}, /v2/health) behind a shared rate
// limiter, circuit breaker, retry policy, request coalescer, and response
// cache. Prometheus metrics for those components are served on /metrics.
//
// Configuration is environment-only. Beyond the GATEWAY_* tunables read by
// gatekit.ConfigFromEnv, the daemon reads:
//
//	GATEWAY_LISTEN_ADDR      listen address (default ":8080")
//	GATEWAY_UPSTREAM_URL     upstream API origin (required)
//	GATEWAY_UPSTREAM_TOKEN   bearer token for the upstream API (required)
//	GATEWAY_REDIS_URL        Redis address; enables the shared cache and
//	                         cross-instance rate limiter when set
//	GATEWAY_REDIS_PASSWORD   Redis password
//	GATEWAY_API_KEYS         comma-separated client API keys; open when empty
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/gatekit"
	"github.com/nhalm/gatekit/breaker"
	"github.com/nhalm/gatekit/cache"
	"github.com/nhalm/gatekit/metrics"
	"github.com/nhalm/gatekit/ratelimit"
	"github.com/nhalm/gatekit/retry"
	"github.com/nhalm/gatekit/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gatewayd: %v", err)
	}
}

func run() error {
	cfg, err := gatekit.ConfigFromEnv()
	if err != nil {
		return err
	}

	baseURL := os.Getenv("GATEWAY_UPSTREAM_URL")
	if baseURL == "" {
		return errors.New("GATEWAY_UPSTREAM_URL is required")
	}
	token := os.Getenv("GATEWAY_UPSTREAM_TOKEN")
	if token == "" {
		return errors.New("GATEWAY_UPSTREAM_TOKEN is required")
	}
	addr := os.Getenv("GATEWAY_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, limiter, closers := buildSharedState(cfg)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	br := breaker.New(
		breaker.WithFailureThreshold(cfg.BreakerFailureThreshold),
		breaker.WithOpenDuration(cfg.BreakerOpenDuration),
	)
	policy := retry.NewPolicy(
		retry.WithMaxAttempts(cfg.RetryMaxAttempts),
		retry.WithInitialDelay(cfg.RetryInitialDelay),
		retry.WithMaxDelay(cfg.RetryMaxDelay),
	)
	registry := prometheus.NewRegistry()
	gatewayMetrics := metrics.New(registry)

	gateway := gatekit.NewClient(store, limiter, br, policy,
		gatekit.WithCacheTTL(cfg.CacheTTL),
		gatekit.WithCallTimeout(cfg.CallTimeout),
		gatekit.WithMetrics(gatewayMetrics),
	)
	api := upstream.New(upstream.Config{
		BaseURL:     baseURL,
		AccessToken: token,
	})

	srv := &server{gateway: gateway, api: api, breaker: br}

	r := chi.NewRouter()
	// Metrics stay outside the response-state and auth middleware so
	// scrapers need no API key.
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(handler())
		if keys := os.Getenv("GATEWAY_API_KEYS"); keys != "" {
			r.Use(apiKey(strings.Split(keys, ",")))
		}
		srv.routes(r)
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("gatewayd listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Print("gatewayd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildSharedState picks the cache store and rate limiter backends. With
// GATEWAY_REDIS_URL set, both live in Redis so every gatewayd instance draws
// from one quota and one cache; a Redis that is down at startup degrades to
// in-process state rather than refusing to boot.
func buildSharedState(cfg gatekit.Config) (cache.Store, ratelimit.Limiter, []io.Closer) {
	redisURL := os.Getenv("GATEWAY_REDIS_URL")
	password := os.Getenv("GATEWAY_REDIS_PASSWORD")

	var closers []io.Closer

	var store cache.Store
	var limiter ratelimit.Limiter

	if redisURL != "" {
		if rs, err := cache.NewRedis(cache.RedisConfig{URL: redisURL, Password: password}); err != nil {
			log.Printf("redis cache unavailable, using in-memory cache: %v", err)
		} else {
			store = rs
		}
		if rb, err := ratelimit.NewRedisBucket(
			ratelimit.RedisBucketConfig{URL: redisURL, Password: password},
			cfg.RateLimitCalls, cfg.RateLimitPeriod,
		); err != nil {
			log.Printf("redis limiter unavailable, using in-process limiter: %v", err)
		} else {
			limiter = rb
			closers = append(closers, rb)
		}
	}

	if store == nil {
		store = cache.NewMemory()
	}
	closers = append(closers, store)

	if limiter == nil {
		bucket := ratelimit.NewTokenBucket(cfg.RateLimitCalls, cfg.RateLimitPeriod)
		limiter = bucket
		closers = append(closers, bucket)
	}

	return store, limiter, closers
}
