// Package metrics exposes session activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/pitch-labs/internal/domain"
)

const namespace = "pitchlabs"

// Turn outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeTimeout       = "timeout"
	OutcomeFailed        = "failed"
	OutcomeTranscription = "transcription_failed"
)

// Metrics records session lifecycle events. It implements the session
// observer contract.
type Metrics struct {
	registry *prometheus.Registry

	active        prometheus.Gauge
	started       *prometheus.CounterVec
	ended         *prometheus.CounterVec
	turns         *prometheus.CounterVec
	oracleLatency prometheus.Histogram
	perturbations *prometheus.CounterVec
	scores        *prometheus.HistogramVec
	sweeps        *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions started and not yet ended.",
		}),
		started: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started, by tier.",
		}, []string{"tier"}),
		ended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions ended, by tier and end type.",
		}, []string{"tier", "end_type"}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Trainee turns processed, by outcome.",
		}, []string{"outcome"}),
		oracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_latency_seconds",
			Help:      "Time from trainee turn to prospect reply.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		perturbations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "perturbations_total",
			Help:      "Perturbations injected, by kind and subtype.",
		}, []string{"kind", "subtype"}),
		scores: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_score",
			Help:      "Final report score of ended sessions.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}, []string{"tier"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_sessions_total",
			Help:      "Sessions handled by the reaper, by action.",
		}, []string{"action"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SessionStarted implements the session observer contract.
func (m *Metrics) SessionStarted(s *domain.Session) {
	m.active.Inc()
	m.started.WithLabelValues(string(s.Tier)).Inc()
}

// TurnCompleted implements the session observer contract.
func (m *Metrics) TurnCompleted(_ *domain.Session, _, _ domain.Turn, latency time.Duration) {
	m.turns.WithLabelValues(OutcomeOK).Inc()
	m.oracleLatency.Observe(latency.Seconds())
}

// TurnFailed implements the session observer contract.
func (m *Metrics) TurnFailed(_ *domain.Session, err error) {
	m.turns.WithLabelValues(turnOutcome(err)).Inc()
}

// PerturbationInjected implements the session observer contract.
func (m *Metrics) PerturbationInjected(_ *domain.Session, spec domain.PerturbationSpec) {
	m.perturbations.WithLabelValues(string(spec.Kind), spec.Subtype).Inc()
}

// SessionEnded implements the session observer contract.
func (m *Metrics) SessionEnded(rec *domain.SessionRecord) {
	s := rec.Session
	m.active.Dec()
	m.ended.WithLabelValues(string(s.Tier), string(s.EndType)).Inc()
	if rec.Report != nil {
		m.scores.WithLabelValues(string(s.Tier)).Observe(float64(rec.Report.Score))
	}
}

// SessionsReaped counts reaper actions. Discarded sessions never emit an
// end notification, so they leave the active gauge here.
func (m *Metrics) SessionsReaped(ended, discarded, evicted int) {
	m.active.Sub(float64(discarded))
	m.sweeps.WithLabelValues("ended").Add(float64(ended))
	m.sweeps.WithLabelValues("discarded").Add(float64(discarded))
	m.sweeps.WithLabelValues("evicted").Add(float64(evicted))
}

func turnOutcome(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, domain.ErrTranscriptionUnavailable):
		return OutcomeTranscription
	default:
		return OutcomeFailed
	}
}
