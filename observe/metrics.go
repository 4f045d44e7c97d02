// Package observe wires the pipeline's Prometheus instrumentation,
// grounded on the teacher's zk/metrics naming convention
// (component_action_unit).
package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements orchestrator.Metrics against a Prometheus
// registry.
type Recorder struct {
	batchesIngested prometheus.Counter
	blocksIngested  prometheus.Counter
	ingestDuration  prometheus.Histogram
	errorsTotal     *prometheus.CounterVec
	rollbackDepth   prometheus.Histogram
	finalityLag     prometheus.Gauge
}

// NewRecorder registers the pipeline's metrics against registry and
// returns a Recorder to feed them.
func NewRecorder(registry prometheus.Registerer) *Recorder {
	r := &Recorder{
		batchesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdk_ingest",
			Name:      "batches_ingested_total",
			Help:      "Total batches committed end to end.",
		}),
		blocksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdk_ingest",
			Name:      "blocks_ingested_total",
			Help:      "Total blocks committed across all batches.",
		}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdk_ingest",
			Name:      "batch_commit_seconds",
			Help:      "Wall-clock time to commit one batch end to end.",
			Buckets:   prometheus.DefBuckets,
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdk_ingest",
			Name:      "errors_total",
			Help:      "Errors observed by component kind.",
		}, []string{"kind"}),
		rollbackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdk_ingest",
			Name:      "rollback_depth_blocks",
			Help:      "Number of blocks affected by executed rollbacks.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
		}),
		finalityLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cdk_ingest",
			Name:      "finality_lag_seconds",
			Help:      "Seconds between batch observation and L1 finalization.",
		}),
	}

	registry.MustRegister(r.batchesIngested, r.blocksIngested, r.ingestDuration, r.errorsTotal, r.rollbackDepth, r.finalityLag)
	return r
}

func (r *Recorder) RecordBatchIngested(blockCount int, elapsed time.Duration) {
	r.batchesIngested.Inc()
	r.blocksIngested.Add(float64(blockCount))
	r.ingestDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordRollback(depth int) {
	r.rollbackDepth.Observe(float64(depth))
}

func (r *Recorder) RecordFinalityLag(seconds float64) {
	r.finalityLag.Set(seconds)
}
