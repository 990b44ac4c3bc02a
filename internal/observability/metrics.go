package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storm_alerts"

// Metrics holds the Prometheus counters, histograms, and gauges for the alert relay.
type Metrics struct {
	WebhooksReceived *prometheus.CounterVec // labels: endpoint={alerts,test}, result={accepted,rejected}
	AlertOutcomes    *prometheus.CounterVec // labels: status
	AlertsInFlight   prometheus.Gauge
	ProcessDuration  prometheus.Histogram

	// Publisher metrics.
	PublishAttempts   *prometheus.CounterVec   // labels: target={channel,direct}, path={image,text}, result
	PublishDuration   *prometheus.HistogramVec // labels: target
	RateLimited       prometheus.Gauge
	RateLimitEvents   prometheus.Counter
	AssetCache        *prometheus.CounterVec // labels: result={hit,miss}
	Reauthentications prometheus.Counter

	// Direct distribution metrics.
	DirectDeliveries *prometheus.CounterVec // labels: result={sent,failed,not_attempted}
}

// NewMetrics creates and registers all relay metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.WebhooksReceived,
		m.AlertOutcomes,
		m.AlertsInFlight,
		m.ProcessDuration,
		m.PublishAttempts,
		m.PublishDuration,
		m.RateLimited,
		m.RateLimitEvents,
		m.AssetCache,
		m.Reauthentications,
		m.DirectDeliveries,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Inbound webhook deliveries by endpoint and result.",
		}, []string{"endpoint", "result"}),
		AlertOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_outcomes_total",
			Help:      "Processed alerts by terminal status.",
		}, []string{"status"}),
		AlertsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_in_flight",
			Help:      "Alerts accepted by the webhook and still being processed.",
		}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_processing_duration_seconds",
			Help:      "Duration from dedup gate to terminal status.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		PublishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Chat API send attempts by target, path and result.",
		}, []string{"target", "path", "result"}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Duration of a complete publish call including fallback.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"target"}),
		RateLimited: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limited",
			Help:      "1 while the chat API backoff window is open, 0 otherwise.",
		}),
		RateLimitEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_events_total",
			Help:      "429 responses received from the chat API.",
		}),
		AssetCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_cache_total",
			Help:      "Alert icon cache lookups by result.",
		}, []string{"result"}),
		Reauthentications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reauthentications_total",
			Help:      "Bot re-authentications triggered by 401 responses.",
		}),
		DirectDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_deliveries_total",
			Help:      "Per-subscriber deliveries by result.",
		}, []string{"result"}),
	}
}
