// Package schedmetrics wires the scheduler's instrumentation points
// (drop counters by reason, batches sent, batch sizes, queue depth)
// to Prometheus, following the teacher's
// metrics/prometheus adapter pattern (ground:
// metrics/prometheus/prometheus.go) but registering native
// prometheus/client_golang collectors directly rather than bridging a
// second metrics library, since the scheduler has no equivalent of
// the teacher's go-ethereum metrics registry to adapt from.
package schedmetrics

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
)

// droppedHistorySize bounds the operator-debugging LRU of recent drop
// reasons; it is diagnostic only and never
// consulted by scheduling decisions.
const droppedHistorySize = 256

// Recorder implements scheduler.Recorder against a dedicated
// Prometheus registry. The scheduler package only depends on its own
// narrow Recorder interface, so this package can be omitted entirely
// by an embedder that doesn't want Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	drops       *prometheus.CounterVec
	batchSent   *prometheus.CounterVec
	batchSize   *prometheus.HistogramVec
	queueDepth  prometheus.Gauge

	recentlyDropped *lru.Cache
}

// New constructs a Recorder with its own registry (rather than the
// global default, so multiple schedulers in one process — e.g. in
// tests — don't collide on metric names).
func New() *Recorder {
	reg := prometheus.NewRegistry()

	drops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "banking_scheduler",
		Name:      "drops_total",
		Help:      "Transactions dropped, by reason.",
	}, []string{"reason"})

	batchSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "banking_scheduler",
		Name:      "batches_sent_total",
		Help:      "Batches dispatched to workers, by processing instruction.",
	}, []string{"kind"})

	batchSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "banking_scheduler",
		Name:      "batch_size",
		Help:      "Packet count per dispatched batch, by processing instruction.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	}, []string{"kind"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "banking_scheduler",
		Name:      "queue_depth",
		Help:      "Current number of pending transactions in the priority container.",
	})

	reg.MustRegister(drops, batchSent, batchSize, queueDepth)

	recentlyDropped, err := lru.New(droppedHistorySize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// droppedHistorySize never is.
		panic(err)
	}

	return &Recorder{
		registry:        reg,
		drops:           drops,
		batchSent:       batchSent,
		batchSize:       batchSize,
		queueDepth:      queueDepth,
		recentlyDropped: recentlyDropped,
	}
}

// Registry returns the underlying prometheus.Gatherer for wiring into
// an HTTP handler (promhttp.HandlerFor) or a scrape endpoint.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Drop implements scheduler.Recorder.
func (r *Recorder) Drop(reason string) {
	r.drops.WithLabelValues(reason).Inc()
	r.recentlyDropped.Add(reason, struct{}{})
}

// BatchSent implements scheduler.Recorder.
func (r *Recorder) BatchSent(kind string, size int) {
	r.batchSent.WithLabelValues(kind).Inc()
	r.batchSize.WithLabelValues(kind).Observe(float64(size))
}

// QueueDepth implements scheduler.Recorder.
func (r *Recorder) QueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// RecentDropReasons returns the drop reasons recorded since process
// start, most-recently-used last, for operator debugging — not
// load-bearing for scheduling.
func (r *Recorder) RecentDropReasons() []string {
	keys := r.recentlyDropped.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(string))
	}
	return out
}
