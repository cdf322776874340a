// The pipeline binary runs every component in one process on in-memory
// backends. Development and demo use only; production runs the four
// dedicated binaries against Redis and TimescaleDB.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"market-pipeline/internal/bus"
	"market-pipeline/internal/config"
	"market-pipeline/internal/feed"
	"market-pipeline/internal/gateway"
	"market-pipeline/internal/liquidation"
	"market-pipeline/internal/observability"
	"market-pipeline/internal/persister"
	"market-pipeline/internal/queue"
	"market-pipeline/internal/quotecache"
	"market-pipeline/internal/storage/memory"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logger.WithField("component", "pipeline")

	metrics, registry := observability.NewMetrics("market_pipeline")
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, log)
	}

	q := queue.NewMemory()
	b := bus.NewMemory()
	cache := quotecache.NewMemory()
	tradeStore := memory.NewTradeStore()
	positionStore := memory.NewPositionStore()

	connector := feed.New(feed.Options{
		URL:     cfg.FeedURL,
		Symbols: cfg.Symbols,
		Queue:   q,
		Bus:     b,
		Channel: cfg.Channel,
		Cache:   cache,
		Metrics: metrics,
		Logger:  logger.WithField("component", "feed"),
	})
	p := persister.New(persister.Options{
		Queue:     q,
		Store:     tradeStore,
		BatchSize: cfg.BatchSize,
		Metrics:   metrics,
		Logger:    logger.WithField("component", "persister"),
	})
	hub := gateway.NewHub(gateway.Options{
		Bus:          b,
		Channel:      cfg.Channel,
		PingInterval: cfg.PingInterval,
		Metrics:      metrics,
		Logger:       logger.WithField("component", "gateway"),
	})
	engine := liquidation.New(liquidation.Options{
		Bus:       b,
		Channel:   cfg.Channel,
		Positions: positionStore,
		Metrics:   metrics,
		Logger:    logger.WithField("component", "liquidator"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignals(cancel, log)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: hub}
	go func() {
		log.WithField("addr", cfg.GatewayAddr).Info("starting gateway listener")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("gateway listener failed")
			cancel()
		}
	}()

	// The first component to fail takes the rest down with it.
	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).WithField("runner", name).Error("component failed")
				errCh <- err
				cancel()
			}
		}()
	}

	run("feed", connector.Run)
	run("persister", p.Run)
	run("gateway", hub.Run)
	run("liquidator", engine.Run)

	log.Info("pipeline running on in-memory backends")
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	select {
	case err := <-errCh:
		log.WithError(err).Fatal("pipeline failed")
	default:
	}
	log.Info("shutdown complete")
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
