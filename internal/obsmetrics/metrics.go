// Package obsmetrics exposes Prometheus counters/histograms for run count,
// run duration, consumed cost, and judge verdict counts, in the same
// NewCounterVec/NewHistogramVec + Register idiom the teacher uses for its
// ML drift metrics (the teacher's other metrics package, pkg/metrics,
// hand-rolls a text-exposition format instead of using the client library
// for real; that part of the teacher is not reused here).
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wark", Subsystem: "sandbox", Name: "runs_total", Help: "Total number of sandboxed runs by termination kind."},
		[]string{"termination"},
	)
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "wark", Subsystem: "sandbox", Name: "run_duration_seconds", Help: "Wall-clock duration of a sandboxed run."},
		[]string{"termination"},
	)
	CostConsumed = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "wark", Subsystem: "sandbox", Name: "cost_consumed", Help: "Computational cost consumed per run.", Buckets: prometheus.ExponentialBuckets(1, 10, 10)},
		[]string{"termination"},
	)
	JudgeVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "wark", Subsystem: "judge", Name: "verdicts_total", Help: "Total judge verdicts by success and exception type."},
		[]string{"success", "exception_type"},
	)
)

func init() {
	_ = prometheus.Register(RunsTotal)
	_ = prometheus.Register(RunDuration)
	_ = prometheus.Register(CostConsumed)
	_ = prometheus.Register(JudgeVerdicts)
}

// Handler returns the promhttp handler exposed on GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
