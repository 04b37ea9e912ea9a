// Command pricewatch runs the ingestion pipeline: the Scheduler and Worker
// Pool as a long-running process, plus a small /healthz and /metrics
// surface for operators — the core owns no other wire protocol (spec.md
// §6). Composition follows the teacher's distribution_service/main.go:
// load config, wire stores and services, start background loops, then wait
// for a shutdown signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/iaros/pricewatch/internal/config"
	"github.com/iaros/pricewatch/internal/extract"
	"github.com/iaros/pricewatch/internal/fetch"
	"github.com/iaros/pricewatch/internal/obs/logging"
	"github.com/iaros/pricewatch/internal/obs/metrics"
	"github.com/iaros/pricewatch/internal/policy"
	"github.com/iaros/pricewatch/internal/queue"
	"github.com/iaros/pricewatch/internal/ratelimit"
	"github.com/iaros/pricewatch/internal/rules"
	"github.com/iaros/pricewatch/internal/scheduler"
	"github.com/iaros/pricewatch/internal/scrape"
	"github.com/iaros/pricewatch/internal/store"
	"github.com/iaros/pricewatch/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Service: "pricewatch",
		Format:  cfg.Logging.Format,
	})
	defer log.Sync()

	db, err := store.Connect(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}
	if err := store.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("migrate store schema")
	}
	if err := queue.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("migrate queue schema")
	}

	redisClient := newRedisClient(cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsRegistry := metrics.New()

	trackers := store.NewTrackerStore(db)
	history := store.NewHistoryStore(db)
	recorder := store.NewRecorder(db)

	allowlist := policy.NewAllowlist(cfg.Allowlist.Enabled, cfg.Allowlist.Hosts)

	httpFetcher := fetch.NewHttpFetcher(fetch.HttpFetcherConfig{
		Timeout:      cfg.Fetch.HTTPTimeout,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		UserAgents:   cfg.Fetch.UserAgents,
	}, log)

	browserFetcher := fetch.NewBrowserFetcher(fetch.BrowserFetcherConfig{
		Timeout: cfg.Fetch.BrowserTimeout,
	}, log)
	defer browserFetcher.Close()

	extractorRegistry := extract.NewRegistry(extract.NewGenericAdapter(""))

	executor := scrape.NewExecutor(httpFetcher, browserFetcher, extractorRegistry, allowlist, log, metricsRegistry)

	governor := ratelimit.New(ratelimit.Config{
		PerHostCapacity:     cfg.RateLimit.PerHostCapacity,
		PerHostRefillPerSec: cfg.RateLimit.PerHostRefillPerSec,
		GlobalConcurrency:   cfg.RateLimit.GlobalConcurrency,
	}, metricsRegistry)

	retryPolicy := queue.RetryPolicy{
		MaxAttempts:        cfg.Queue.MaxAttempts,
		BaseBackoff:        cfg.Queue.BaseBackoff,
		MaxBackoff:         cfg.Queue.MaxBackoff,
		HardFailMaxBackoff: cfg.Queue.HardFailMaxBackoff,
	}
	jobQueue := queue.New(db, retryPolicy, metricsRegistry)

	sched := scheduler.New(trackers, jobQueue, redisClient, cfg.Scheduler, log)
	if err := sched.Start(); err != nil {
		log.WithError(err).Fatal("start scheduler")
	}

	pool := worker.New(worker.Config{
		Workers:           cfg.Scheduler.Workers,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}, jobQueue, governor, executor, recorder, log)
	pool.Start()

	// Constructed for use by external callers embedding this module as a
	// library (spec.md §6: the REST surface is external to this core) to
	// serve price-history queries and recommendations.
	_ = history
	_ = rules.New(rules.Config{
		MaxChangePct:      decimalFromFloat(cfg.Pricing.MaxChangePct),
		MinMarginPct:      decimalFromFloat(cfg.Pricing.MinMarginPct),
		CompetitiveWeight: decimalFromFloat(cfg.Pricing.CompetitiveWeight),
		OwnWeight:         decimalFromFloat(cfg.Pricing.OwnWeight),
		CacheTTL:          cfg.Pricing.RecommendationCacheTTL,
	})

	metricsServer := newMetricsServer(jobQueue)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()

	depthDone := make(chan struct{})
	go reportQueueDepth(jobQueue, metricsRegistry, log, depthDone)

	log.Info("pricewatch started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	close(depthDone)
	sched.Stop(shutdownCtx)
	pool.Stop(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Info("pricewatch stopped")
}

// reportQueueDepth polls the Job Queue's depth on an interval and publishes
// it to the QueueDepth gauge, until done is closed.
func reportQueueDepth(jobQueue *queue.Queue, reg *metrics.Registry, log *logging.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			depth, err := jobQueue.Depth(ctx)
			cancel()
			if err != nil {
				log.WithError(err).Warn("queue depth probe failed")
				continue
			}
			reg.QueueDepth.Set(float64(depth))
		}
	}
}

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// newRedisClient pings once at startup; a failed ping falls back to nil so
// the Scheduler's in-flight marker degrades to its in-process form rather
// than blocking startup on an optional dependency.
func newRedisClient(cfg config.RedisConfig, log *logging.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable, scheduler will use its in-process in-flight marker")
		_ = client.Close()
		return nil
	}
	return client
}

func newMetricsServer(jobQueue *queue.Queue) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := jobQueue.Depth(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: ":9090", Handler: mux}
}
