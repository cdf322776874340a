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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"market-pipeline/internal/bus"
	"market-pipeline/internal/config"
	"market-pipeline/internal/feed"
	"market-pipeline/internal/observability"
	"market-pipeline/internal/queue"
	"market-pipeline/internal/quotecache"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logger.WithField("component", "feed")

	metrics, registry := observability.NewMetrics("market_pipeline")
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, log)
	}

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	defer rdb.Close()

	connector := feed.New(feed.Options{
		URL:     cfg.FeedURL,
		Symbols: cfg.Symbols,
		Queue:   queue.NewRedis(rdb, cfg.QueueKey),
		Bus:     bus.NewRedis(rdb),
		Channel: cfg.Channel,
		Cache:   quotecache.NewRedis(rdb),
		Metrics: metrics,
		Logger:  log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignals(cancel, log)

	log.WithField("symbols", strings.Join(cfg.Symbols, ",")).Info("starting feed")
	err = connector.Run(ctx)
	switch {
	case errors.Is(err, feed.ErrReconnectExhausted):
		// Exit non-zero so the supervisor restarts the process.
		log.WithError(err).Error("feed terminated")
		os.Exit(1)
	case err != nil && !errors.Is(err, context.Canceled):
		log.WithError(err).Fatal("feed failed")
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

// handleSignals cancels on the first signal and force-exits on the
// second.
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
