package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("parts", "done", time.Second)
	m.CacheHit()
	m.CacheMiss()
	m.Retry("transient")
	m.AddTokens(10, 20)
	m.Extracted("direct")
	m.ObservePipeline("ready", time.Minute)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveStage("parts", "done", 2*time.Second)
	m.ObserveStage("parts", "error", time.Second)
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.Retry("transient")
	m.AddTokens(100, 40)
	m.Extracted("fenced")
	m.ObservePipeline("partial", time.Minute)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageDispatch.WithLabelValues("parts", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageDispatch.WithLabelValues("parts", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("transient")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.Tokens.WithLabelValues("input")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.Tokens.WithLabelValues("output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractStrategy.WithLabelValues("fenced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("partial")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestSeparateRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.CacheHit()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheLookups.WithLabelValues("hit")))
}

func TestRetriesLabelledByClass(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Retry("transient")
	m.Retry("connection")
	m.Retry("transient")

	want := `
# HELP hwb_llm_retries_total Retried model calls by failure class
# TYPE hwb_llm_retries_total counter
hwb_llm_retries_total{class="connection"} 1
hwb_llm_retries_total{class="transient"} 2
`
	require.NoError(t, testutil.CollectAndCompare(m.Retries, strings.NewReader(want), "hwb_llm_retries_total"))
}
