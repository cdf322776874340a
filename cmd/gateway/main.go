package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"market-pipeline/internal/bus"
	"market-pipeline/internal/config"
	"market-pipeline/internal/gateway"
	"market-pipeline/internal/observability"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logger.WithField("component", "gateway")

	metrics, registry := observability.NewMetrics("market_pipeline")
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, log)
	}

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	defer rdb.Close()

	hub := gateway.NewHub(gateway.Options{
		Bus:          bus.NewRedis(rdb),
		Channel:      cfg.Channel,
		PingInterval: cfg.PingInterval,
		Metrics:      metrics,
		Logger:       log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignals(cancel, log)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: hub}
	go func() {
		log.WithField("addr", cfg.GatewayAddr).Info("starting gateway")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("gateway listener failed")
			cancel()
		}
	}()

	err = hub.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("gateway failed")
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
