package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/clock"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/config"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/engine"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/httpapi"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/metrics"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/planpolicy"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/queue"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/reconcile"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/registry"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/scheduler"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/store"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/types"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/waitqueue"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config: failed to load")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clk := clock.New()
	mtr := metrics.New()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("store: failed to open")
	}
	defer closeStore()

	ov := planpolicy.Overrides{
		ProIntervalMs:      cfg.ProIntervalMs,
		UltimateIntervalMs: cfg.UltimateIntervalMs,
	}

	eng := engine.New(st, clk, log.WithField("component", "engine"))
	eng.SetMetrics(mtr)

	reg := registry.New(st, clk, ov, log.WithField("component", "registry"))

	if err := seedKeys(ctx, cfg, reg); err != nil {
		log.WithError(err).Warn("startup: failed to preload keys")
	}

	sched := scheduler.New(st, clk, log.WithField("component", "scheduler"))
	sched.SetMetrics(mtr)
	sched.Start(ctx)
	defer sched.Stop()

	q := openQueue(cfg)
	wb := waitqueue.New(q, eng, waitqueue.Config{
		BackoffMs: cfg.KeyQueueBackoffMs,
		MaxWaitMs: cfg.KeyQueueMaxWaitMs,
	}, log.WithField("component", "waitqueue"))
	wb.SetMetrics(mtr)
	wb.Start(ctx, cfg.KeyQueueConcurrency)
	defer wb.Stop()

	if cfg.KeysJSONPath != "" {
		watcher := reconcile.NewWatcher(reconcile.NewFileSource(cfg.KeysJSONPath), reg, 30*time.Second, log.WithField("component", "watcher"))
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	srv := httpapi.New(eng, wb, reg, ov, cfg.KeyQueueRequestTimeoutMs, log.WithField("component", "http"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Mux(ctx.Done()),
		ReadHeaderTimeout: 15 * time.Second,
	}

	if cfg.MetricsAddr != "" {
		go func() {
			log.Infof("metrics listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mtr.Handler()); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics server error")
			}
		}()
	}

	go func() {
		log.Infof("broker listening on :%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *types.Config, log *logrus.Entry) (store.KeyStore, func(), error) {
	if cfg.HasRedis() {
		rdb := newRedisClient(cfg)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := rdb.Ping(pingCtx).Result(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		rs, err := store.NewRedisStore(ctx, rdb)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using redis key store")
		return rs, func() { _ = rdb.Close() }, nil
	}

	path := os.Getenv("BROKER_BOLT_PATH")
	if path == "" {
		path = "broker.db"
	}
	bs, err := store.OpenBoltStore(path)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("path", path).Info("using bolt key store")
	return bs, func() { _ = bs.Close() }, nil
}

func openQueue(cfg *types.Config) queue.Queue {
	if cfg.HasRedis() {
		return queue.NewRedisQueue(newRedisClient(cfg))
	}
	return queue.NewMemoryQueue(256, 4096)
}

func newRedisClient(cfg *types.Config) *redis.Client {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			return redis.NewClient(opts)
		}
	}
	addr := cfg.RedisHost
	if cfg.RedisPort != "" {
		addr = fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
}

func seedKeys(ctx context.Context, cfg *types.Config, reg *registry.Registry) error {
	source, raw := config.ResolveSeedKeys(cfg)
	if source == "" {
		return nil
	}
	if source == "json_path" {
		buf, err := os.ReadFile(raw)
		if err != nil {
			return fmt.Errorf("read seed keys file: %w", err)
		}
		raw = string(buf)
		source = "json"
	}
	seeds, err := config.ParseSeedKeys(source, raw, cfg.KeysDefaultPlan)
	if err != nil {
		return err
	}
	for _, sk := range seeds {
		if err := reg.Register(ctx, sk.SubscriptionID, sk.Plan); err != nil {
			return fmt.Errorf("register seed key %s: %w", sk.SubscriptionID, err)
		}
	}
	return nil
}
