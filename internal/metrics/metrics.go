// Package metrics records per-step outcomes of a deployment run as Prometheus
// metrics and writes them in the node_exporter textfile format.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/specialistvlad/deploygrid/internal/pipeline"
)

// Recorder is a pipeline.Observer backed by its own Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lastRun  prometheus.Gauge
}

var _ pipeline.Observer = (*Recorder)(nil)

// New creates a recorder with a fresh registry. Every metric carries the
// network as a constant label.
func New(network string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"network": network}, reg))
	return &Recorder{
		registry: reg,
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deploygrid",
				Name:      "steps_total",
				Help:      "Steps finished, by network and final status.",
			},
			[]string{"status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "deploygrid",
				Name:      "step_duration_seconds",
				Help:      "Time spent on a step, from argument resolution to the ledger write.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"status"},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "deploygrid",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last step of a run finished.",
			},
		),
	}
}

// StepFinished implements pipeline.Observer.
func (r *Recorder) StepFinished(_ context.Context, res pipeline.StepResult) {
	status := string(res.Status)
	r.steps.WithLabelValues(status).Inc()
	r.duration.WithLabelValues(status).Observe(res.Duration.Seconds())
	r.lastRun.SetToCurrentTime()
}

// Gatherer exposes the recorder's registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes every metric to path, atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
