// Package metrics records backup run outcomes as Prometheus metrics. A
// one-shot CLI has nothing to scrape, so the registry is written to a
// node_exporter textfile collector file at the end of each run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mysqldumper"

// Recorder owns a private registry with the backup metrics.
type Recorder struct {
	registry *prometheus.Registry

	runs             *prometheus.CounterVec
	restores         *prometheus.CounterVec
	stepFailures     *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	lastRun          prometheus.Gauge
	lastSuccess      prometheus.Gauge
	dumpSize         prometheus.Gauge
	artifactsRemoved prometheus.Counter
	artifactsKept    prometheus.Gauge
}

// NewRecorder creates a Recorder backed by a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup runs by result.",
		}, []string{"result"}),
		restores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Restore attempts by result.",
		}, []string{"result"}),
		stepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Failed workflow steps.",
		}, []string{"step"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of workflow steps.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"step"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last backup run.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup run.",
		}),
		dumpSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dump_size_bytes",
			Help:      "Size of the most recent dump artifact.",
		}),
		artifactsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_removed_total",
			Help:      "Artifacts deleted by rotation.",
		}),
		artifactsKept: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts_kept",
			Help:      "Artifacts in the store after rotation.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStep records how long a workflow step took.
func (r *Recorder) ObserveStep(step string, d time.Duration) {
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordDump records the size of a new artifact.
func (r *Recorder) RecordDump(sizeBytes int64) {
	r.dumpSize.Set(float64(sizeBytes))
}

// RecordRotation records a rotation pass.
func (r *Recorder) RecordRotation(removed, kept int) {
	r.artifactsRemoved.Add(float64(removed))
	r.artifactsKept.Set(float64(kept))
}

// RecordRun records the outcome of a run finished at the given time.
// failedStep is ignored for successful runs.
func (r *Recorder) RecordRun(success bool, at time.Time, failedStep string) {
	r.lastRun.Set(float64(at.Unix()))
	r.runs.WithLabelValues(resultLabel(success)).Inc()
	if success {
		r.lastSuccess.Set(float64(at.Unix()))
		return
	}
	if failedStep != "" {
		r.stepFailures.WithLabelValues(failedStep).Inc()
	}
}

// RecordRestore counts a restore attempt.
func (r *Recorder) RecordRestore(success bool) {
	r.restores.WithLabelValues(resultLabel(success)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// WriteTextfile atomically writes the registry in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
