// Package metrics exposes Prometheus collectors for the relay engine.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "greet"

type Metrics struct {
	events        *prometheus.CounterVec
	publish       *prometheus.CounterVec
	connects      *prometheus.CounterVec
	relayUp       *prometheus.GaugeVec
	dropped       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	storeSize     prometheus.Gauge
	refreshes     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg (skipped when reg is nil)
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events offered to the store by put result",
		}, []string{"result"}),
		publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Per-relay publish outcomes",
		}, []string{"relay", "outcome"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_connects_total",
			Help:      "Relay dial attempts by result",
		}, []string{"relay", "result"}),
		relayUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_up",
			Help:      "1 when the relay connection is established",
		}, []string{"relay"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_events_total",
			Help:      "Relay frames dropped as malformed or for an unknown subscription",
		}, []string{"relay"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time from REQ until every relay settled",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_events",
			Help:      "Events currently held by the local store",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_refresh_total",
			Help:      "Feed refreshes by result (ok, error, shared)",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.publish, m.connects, m.relayUp, m.dropped,
			m.queryDuration, m.storeSize, m.refreshes)
	}
	return m
}

// Handler serves the gatherer in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) EventPut(result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(result).Inc()
}

func (m *Metrics) PublishOutcome(relay, outcome string) {
	if m == nil {
		return
	}
	m.publish.WithLabelValues(relay, outcome).Inc()
}

func (m *Metrics) RelayConnect(relay string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connects.WithLabelValues(relay, result).Inc()
}

func (m *Metrics) RelayUp(relay string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.relayUp.WithLabelValues(relay).Set(v)
}

// RelayRemoved drops the per-relay gauge once a relay leaves the configuration
func (m *Metrics) RelayRemoved(relay string) {
	if m == nil {
		return
	}
	m.relayUp.DeleteLabelValues(relay)
}

func (m *Metrics) DroppedEvent(relay string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(relay).Inc()
}

func (m *Metrics) ObserveQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) StoreSize(n int) {
	if m == nil {
		return
	}
	m.storeSize.Set(float64(n))
}

func (m *Metrics) FeedRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}
