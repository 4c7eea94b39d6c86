// Package progress tracks running enrichment counts and exports them as
// Prometheus metrics.
package progress

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for completed items.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Counts is a snapshot of per-run item outcomes.
type Counts struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// String renders the running tally for log lines.
func (c Counts) String() string {
	return fmt.Sprintf("%d succeeded / %d skipped / %d failed", c.Succeeded, c.Skipped, c.Failed)
}

// Reporter owns the run counters and their Prometheus collectors.
type Reporter struct {
	mu     sync.Mutex
	counts Counts

	itemsCompleted *prometheus.CounterVec
	batchesFlushed prometheus.Counter
	geocodeTime    prometheus.Histogram
}

// NewReporter registers the collectors against reg.
func NewReporter(reg prometheus.Registerer) (*Reporter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Reporter{
		itemsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filmatlas_items_completed_total",
			Help: "Content items completed, partitioned by outcome.",
		}, []string{"outcome"}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filmatlas_batches_flushed_total",
			Help: "Catalog flushes performed.",
		}),
		geocodeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "filmatlas_geocode_resolve_seconds",
			Help:    "Time to resolve one place mention, including rate-limit queueing and the query cascade.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
	for _, collector := range []prometheus.Collector{
		r.itemsCompleted,
		r.batchesFlushed,
		r.geocodeTime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return r, nil
}

// RegisterQueueDepth exports the geocode queue depth as a gauge.
func (r *Reporter) RegisterQueueDepth(reg prometheus.Registerer, depth func() int) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "filmatlas_geocode_queue_depth",
		Help: "Geocode jobs currently waiting in the serialized queue.",
	}, func() float64 { return float64(depth()) })
	if err := reg.Register(gauge); err != nil {
		return fmt.Errorf("register queue depth gauge: %w", err)
	}
	return nil
}

// ItemCompleted records one finished item.
func (r *Reporter) ItemCompleted(outcome string) {
	r.itemsCompleted.WithLabelValues(outcome).Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case OutcomeSucceeded:
		r.counts.Succeeded++
	case OutcomeSkipped:
		r.counts.Skipped++
	case OutcomeFailed:
		r.counts.Failed++
	}
}

// BatchFlushed records one catalog flush.
func (r *Reporter) BatchFlushed() {
	r.batchesFlushed.Inc()
}

// ObserveGeocodeDuration records how long one place mention took to
// resolve, queueing included.
func (r *Reporter) ObserveGeocodeDuration(seconds float64) {
	r.geocodeTime.Observe(seconds)
}

// Snapshot returns the current counts.
func (r *Reporter) Snapshot() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}
