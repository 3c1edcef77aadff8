package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cardprices/internal/catalog"
	"cardprices/internal/config"
	"cardprices/internal/httpx"
	"cardprices/internal/ingest"
	"cardprices/internal/metrics"
	"cardprices/internal/platform/pricesapi"
	"cardprices/internal/ratelimit"
	"cardprices/internal/runlock"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxTriggerBody = 1 << 10

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   catalog.Store
	metrics *metrics.Registry
	locker  runlock.Locker
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.NewRegistry()}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLocker(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendPebble:
		st, err := catalog.NewPebbleStore(a.cfg.Store.PebbleDir)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = st.Close() })
		a.store = st
		a.log.Info("pebble store opened", zap.String("dir", a.cfg.Store.PebbleDir))
	default:
		pool, err := pgxpool.New(ctx, a.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("cannot create db pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return fmt.Errorf("cannot ping database (%s): %w", redactDSN(a.cfg.Store.DSN), err)
		}
		a.store = catalog.NewPostgresRepo(pool)
		a.log.Info("database connection OK", zap.String("dsn", redactDSN(a.cfg.Store.DSN)))
	}
	return nil
}

func (a *app) openLocker(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.locker = runlock.NewLocalLocker()
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("cannot ping redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	a.locker = runlock.NewRedisLocker(client, a.cfg.Redis.LockTTL)
	a.log.Info("redis run lock enabled", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// runOnce performs one ingestion run with its own queue, so every run
// starts with a full quota.
func (a *app) runOnce(ctx context.Context) (ingest.Summary, error) {
	queue := ratelimit.New(ratelimit.Config{
		Interval: a.cfg.Queue.Interval,
		Ceiling:  a.cfg.Queue.Ceiling,
		Backlog:  a.cfg.Queue.Backlog,
	})
	defer queue.Close()

	client := pricesapi.NewClient(pricesapi.Config{
		BaseURL:      a.cfg.API.BaseURL,
		APIKey:       a.cfg.API.Key,
		UserAgent:    a.cfg.API.UserAgent,
		Timeout:      a.cfg.API.Timeout,
		MaxAttempts:  a.cfg.API.MaxAttempts,
		RetryBackoff: a.cfg.API.RetryBackoff,
		PageSize:     a.cfg.API.PageSize,
	}, queue)

	svc := ingest.NewService(client, a.store, queue, ingest.Config{
		StaleAfter:       a.cfg.Ingest.StaleAfter,
		Policy:           a.cfg.Policy(),
		SetIDs:           a.cfg.Ingest.SetIDs,
		PriceOnlyRefresh: a.cfg.Ingest.PriceOnlyRefresh,
	}, ingest.WithLogger(a.log), ingest.WithObserver(a.metrics))

	sum, err := svc.Run(ctx)
	a.pushMetrics()
	return sum, err
}

func (a *app) pushMetrics() {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.log.Warn("failed to push metrics", zap.Error(err))
	}
}

func (a *app) routes(ctx context.Context) http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("/healthz", httpx.Healthz)
	router.HandleFunc("/readyz", httpx.Readyz(a.store))
	router.Handle("/metrics", a.metrics.Handler())

	ingestHandler := ingest.NewHTTPHandler(a.runOnce, a.locker)
	limiter := httpx.NewRateLimitMiddleware(ctx, a.cfg.HTTP.TriggerEvery, 1)
	router.Handle("/internal/jobs/ingest", httpx.Chain(
		http.HandlerFunc(ingestHandler.Ingest),
		httpx.InternalSecretMiddleware(a.cfg.HTTP.InternalSecret),
		limiter.Middleware,
		httpx.RequestSizeLimitMiddleware(maxTriggerBody),
	))

	return httpx.Chain(router,
		httpx.RequestIDMiddleware(a.log),
		httpx.AccessLogMiddleware,
		httpx.RecoveryMiddleware,
		httpx.SecurityHeadersMiddleware,
	)
}

func redactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}
