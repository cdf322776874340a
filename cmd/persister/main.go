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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"market-pipeline/internal/config"
	"market-pipeline/internal/observability"
	"market-pipeline/internal/persister"
	"market-pipeline/internal/queue"
	"market-pipeline/internal/storage"
	"market-pipeline/internal/storage/memory"
	pgstore "market-pipeline/internal/storage/postgres"
)

func main() {
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of TimescaleDB")
	flag.Parse()

	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logger.WithField("component", "persister")

	metrics, registry := observability.NewMetrics("market_pipeline")
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignals(cancel, log)

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	defer rdb.Close()

	var store storage.TradeStore = memory.NewTradeStore()
	if !*useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("timescaledb connection failed")
		}
		defer pool.Close()

		pg := pgstore.NewTradeStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("schema setup failed")
		}
		if err := pg.EnsureRollups(ctx); err != nil {
			log.WithError(err).Fatal("rollup setup failed")
		}
		store = pg
	}

	p := persister.New(persister.Options{
		Queue:     queue.NewRedis(rdb, cfg.QueueKey),
		Store:     store,
		BatchSize: cfg.BatchSize,
		Metrics:   metrics,
		Logger:    log,
	})

	log.WithField("batch_size", cfg.BatchSize).Info("starting persister")
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("persister failed")
	}
	log.Info("shutdown complete")
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	log.WithField("addr", addr).Info("starting metrics server")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("metrics server error")
	}
}

func handleSignals(cancel context.CancelFunc, log *logrus.Entry) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")
		cancel()

		sig = <-sigCh
		log.WithField("signal", sig.String()).Warn("forcing immediate shutdown")
		os.Exit(1)
	}()
}
