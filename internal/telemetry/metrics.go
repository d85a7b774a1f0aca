// Package telemetry defines the process-wide Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signclips"

var (
	// ─── Tasks ───────────────────────────────────────────────────────────────────

	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "submitted_total",
		Help:      "Total tasks accepted by the control surface.",
	})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "finished_total",
		Help:      "Tasks that reached a terminal state, labelled by status.",
	}, []string{"status"})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "inflight",
		Help:      "Tasks currently holding a processing slot.",
	})

	// ─── Pipeline ────────────────────────────────────────────────────────────────

	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock time per pipeline stage invocation.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
	}, []string{"stage"})

	SegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_total",
		Help:      "Segments cut into clips, labelled by outcome.",
	}, []string{"status"})

	VideosRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "videos_rejected_total",
		Help:      "Candidate videos dropped before processing, labelled by reason.",
	}, []string{"reason"})

	VideosFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "videos_failed_total",
		Help:      "Retained videos aborted by a video-fatal stage failure.",
	}, []string{"stage"})
)

// ObserveStage records the time elapsed since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageDurationSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler { return promhttp.Handler() }
