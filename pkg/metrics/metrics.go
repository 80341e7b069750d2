// Package metrics exposes pipeline counters as Prometheus collectors. A
// Metrics value is constructed per process and passed to the components that
// report to it; every method is safe on a nil receiver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors registered by New.
type Metrics struct {
	StageDispatch   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	Tokens          *prometheus.CounterVec
	ExtractStrategy *prometheus.CounterVec
	PipelineRuns    *prometheus.CounterVec
	PipelineLatency prometheus.Histogram
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		StageDispatch: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hwb_stage_dispatch_total",
				Help: "Stage dispatches by terminal status",
			},
			[]string{"stage", "status"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hwb_stage_duration_seconds",
				Help:    "Stage handler latency in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hwb_cache_lookups_total",
				Help: "Response cache lookups by result",
			},
			[]string{"result"},
		),
		Retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hwb_llm_retries_total",
				Help: "Retried model calls by failure class",
			},
			[]string{"class"},
		),
		Tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hwb_llm_tokens_total",
				Help: "Model tokens by direction",
			},
			[]string{"direction"},
		),
		ExtractStrategy: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hwb_extract_strategy_total",
				Help: "JSON extractions by winning strategy",
			},
			[]string{"strategy"},
		),
		PipelineRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hwb_pipeline_runs_total",
				Help: "Pipeline runs by final status",
			},
			[]string{"status"},
		),
		PipelineLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hwb_pipeline_duration_seconds",
				Help:    "End-to-end pipeline latency in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
	}
}

// ObserveStage records one finished dispatch.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDispatch.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// CacheHit counts a fresh cache entry served.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss counts an absent or expired entry.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// Retry counts one backoff wait for the given failure class.
func (m *Metrics) Retry(class string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(class).Inc()
}

// AddTokens adds usage reported by the model provider.
func (m *Metrics) AddTokens(input, output int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("input").Add(float64(input))
	m.Tokens.WithLabelValues("output").Add(float64(output))
}

// Extracted counts a successful extraction.
func (m *Metrics) Extracted(strategy string) {
	if m == nil {
		return
	}
	m.ExtractStrategy.WithLabelValues(strategy).Inc()
}

// ObservePipeline records a finished run.
func (m *Metrics) ObservePipeline(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(status).Inc()
	m.PipelineLatency.Observe(d.Seconds())
}
