// Package metrics counts iterations, verdicts and session outcomes. Director
// is a short-lived CLI, so metrics are written to a node_exporter textfile
// at the end of a run instead of being scraped.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

const namespace = "director"

type Metrics struct {
	registry *prometheus.Registry

	IterationsTotal          *prometheus.CounterVec
	GenerationFailuresTotal  prometheus.Counter
	ExecutionTimeoutsTotal   prometheus.Counter
	ExecutionDurationSeconds prometheus.Histogram
	SessionsTotal            *prometheus.CounterVec
}

// New registers a fresh set of collectors on their own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		IterationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed iterations by verdict",
		}, []string{"verdict"}),

		GenerationFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Code generation invocations that did not complete",
		}),

		ExecutionTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_timeouts_total",
			Help:      "Validation commands killed after exceeding their timeout",
		}),

		ExecutionDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Validation command duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by terminal status",
		}, []string{"status"}),
	}
}

// RecordIteration counts one finished iteration.
func (m *Metrics) RecordIteration(rec models.IterationRecord) {
	if !rec.GenerationSucceeded {
		m.GenerationFailuresTotal.Inc()
		m.IterationsTotal.WithLabelValues("aborted").Inc()
		return
	}

	if rec.Outcome != nil {
		m.ExecutionDurationSeconds.Observe(rec.Outcome.Duration.Seconds())
		if rec.Outcome.TimedOut {
			m.ExecutionTimeoutsTotal.Inc()
		}
	}

	verdict := "failure"
	if rec.Verdict.Success {
		verdict = "success"
	}
	m.IterationsTotal.WithLabelValues(verdict).Inc()
}

// RecordSession counts a session that reached a terminal status.
func (m *Metrics) RecordSession(status models.TerminalStatus) {
	m.SessionsTotal.WithLabelValues(string(status)).Inc()
}

// Registry exposes the underlying registry for tests and exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

