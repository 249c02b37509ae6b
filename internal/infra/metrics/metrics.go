// Package metrics collects and exposes Prometheus metrics for the aggregate
// service and the notification matcher. Metrics are operational only; no
// correctness depends on them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics interface consumed by the service layer.
type Recorder interface {
	RecordOperation(operation, outcome string, duration time.Duration)
	RecordSlotMatch(slot string)
	RecordSlotSkip(slot string)
	RecordResyncCandidates(count int)
}

// Collector is the Prometheus-backed Recorder implementation.
type Collector struct {
	operations       *prometheus.CounterVec
	operationLatency prometheus.Histogram
	slotMatches      *prometheus.CounterVec
	slotSkips        *prometheus.CounterVec
	resyncCandidates prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics on the given
// registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alarmkeeper_operations_total",
			Help: "Aggregate service operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alarmkeeper_operation_latency_seconds",
			Help:    "Latency of aggregate service operations.",
			Buckets: prometheus.DefBuckets,
		}),
		slotMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alarmkeeper_slot_matches_total",
			Help: "Users matched as due for a notification, by slot.",
		}, []string{"slot"}),
		slotSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alarmkeeper_slot_skips_total",
			Help: "Candidate schedules evaluated but not due, by slot.",
		}, []string{"slot"}),
		resyncCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alarmkeeper_resync_candidates_total",
			Help: "Profiles flagged as needing a device resync.",
		}),
	}

	reg.MustRegister(
		c.operations,
		c.operationLatency,
		c.slotMatches,
		c.slotSkips,
		c.resyncCandidates,
	)

	return c
}

func (c *Collector) RecordOperation(operation, outcome string, duration time.Duration) {
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.operationLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordSlotMatch(slot string) {
	c.slotMatches.WithLabelValues(slot).Inc()
}

func (c *Collector) RecordSlotSkip(slot string) {
	c.slotSkips.WithLabelValues(slot).Inc()
}

func (c *Collector) RecordResyncCandidates(count int) {
	c.resyncCandidates.Add(float64(count))
}

// Handler returns the HTTP handler serving /metrics for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Nop is a Recorder that discards everything; used in tests.
type Nop struct{}

func (Nop) RecordOperation(string, string, time.Duration) {}
func (Nop) RecordSlotMatch(string)                        {}
func (Nop) RecordSlotSkip(string)                         {}
func (Nop) RecordResyncCandidates(int)                    {}
