// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Feed
	TradesEnqueued    prometheus.Counter
	TradesPublished   prometheus.Counter
	QuotesObserved    prometheus.Counter
	MalformedMessages prometheus.Counter

	// Persister
	QueueDepth       prometheus.Gauge
	RowsUpserted     prometheus.Counter
	RowsRejected     prometheus.Counter
	BatchesPersisted prometheus.Counter
	PersistErrors    prometheus.Counter

	// Gateway
	ConnectedClients  prometheus.Gauge
	MessagesFannedOut prometheus.Counter
	ClientsReaped     prometheus.Counter

	// Liquidation
	TicksEvaluated     prometheus.Counter
	PositionsClosed    *prometheus.CounterVec
	CloseRacesDetected prometheus.Counter
	EvaluationErrors   prometheus.Counter
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) (*Metrics, *prometheus.Registry) {
	if namespace == "" {
		namespace = "market_pipeline"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		TradesEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_trades_enqueued_total",
			Help:      "Normalized trades pushed onto the durable queue.",
		}),
		TradesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_trades_published_total",
			Help:      "Broadcast messages published to the bus.",
		}),
		QuotesObserved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_quotes_observed_total",
			Help:      "Top-of-book quote updates handled.",
		}),
		MalformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_malformed_messages_total",
			Help:      "Upstream payloads dropped as unrecognized.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending items on the durable queue.",
		}),
		RowsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persister_rows_upserted_total",
			Help:      "Trade rows written to the time-series store.",
		}),
		RowsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persister_rows_rejected_total",
			Help:      "Queue items dropped by validation.",
		}),
		BatchesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persister_batches_total",
			Help:      "Successfully committed upsert batches.",
		}),
		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persister_errors_total",
			Help:      "Failed persist cycles.",
		}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connected_clients",
			Help:      "Currently open gateway client sockets.",
		}),
		MessagesFannedOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_messages_fanned_out_total",
			Help:      "Messages forwarded to gateway clients.",
		}),
		ClientsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_clients_reaped_total",
			Help:      "Clients terminated for missing pongs.",
		}),
		TicksEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_ticks_evaluated_total",
			Help:      "Price ticks evaluated against open positions.",
		}),
		PositionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_positions_closed_total",
			Help:      "Positions closed by the engine, by reason.",
		}, []string{"reason"}),
		CloseRacesDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_close_races_total",
			Help:      "Conditional closes that affected zero rows.",
		}),
		EvaluationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_errors_total",
			Help:      "Failed tick evaluations.",
		}),
	}, reg
}

// Handler serves a registry over HTTP for /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
