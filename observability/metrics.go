// Package observability sets up logging and prometheus metrics for the node.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	envelopeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omni",
			Subsystem: "envelope",
			Name:      "requests_total",
			Help:      "Handled request envelopes by method and result (\"ok\" or error code).",
		},
		[]string{"node", "method", "result"},
	)
	envelopeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "omni",
			Subsystem: "envelope",
			Name:      "handle_duration_seconds",
			Help:      "Time from envelope receipt to signed response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method"},
	)
	envelopeRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omni",
			Subsystem: "envelope",
			Name:      "rejected_total",
			Help:      "Envelopes rejected before dispatch, by rule.",
		},
		[]string{"node", "rule"},
	)
	storeCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omni",
			Subsystem: "store",
			Name:      "commits_total",
			Help:      "Store commits.",
		},
		[]string{"node"},
	)
	transportThrottled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omni",
			Subsystem: "transport",
			Name:      "throttled_total",
			Help:      "Calls refused by the rate limiter.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(envelopeRequests, envelopeDuration, envelopeRejected, storeCommits, transportThrottled)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordRequest(node, method, result string, duration time.Duration) {
	RegisterMetrics()
	envelopeRequests.WithLabelValues(node, method, result).Inc()
	envelopeDuration.WithLabelValues(node, method).Observe(duration.Seconds())
}

func RecordRejection(node, rule string) {
	RegisterMetrics()
	envelopeRejected.WithLabelValues(node, rule).Inc()
}

func RecordCommit(node string) {
	RegisterMetrics()
	storeCommits.WithLabelValues(node).Inc()
}

func RecordThrottled(node string) {
	RegisterMetrics()
	transportThrottled.WithLabelValues(node).Inc()
}
