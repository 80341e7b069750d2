package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/status"
)

type runnerFunc func(ctx context.Context, prompt string) (*models.Result, error)

func (f runnerFunc) Run(ctx context.Context, prompt string) (*models.Result, error) { return f(ctx, prompt) }

func readyRunner(ctx context.Context, prompt string) (*models.Result, error) {
	status.FromContext(ctx).OnStatus("▶ Analyzing...")
	res := models.NewResult("run-1", prompt)
	res.Outputs["requirements"] = map[string]any{"project_name": "lamp"}
	res.Messages = []models.StageMessage{{To: "requirements", Task: "analyze", Status: models.StatusDone, DurationMs: 5}}
	res.Status = models.RunReady
	return res, nil
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(config.ServerConfig{}, runnerFunc(readyRunner))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.NotEmpty(t, rec.Header().Get("X-Duration-Ms"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := New(config.ServerConfig{}, runnerFunc(readyRunner))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-Id"))
}

func TestBuild(t *testing.T) {
	s := New(config.ServerConfig{}, runnerFunc(readyRunner))
	rec := post(t, s, "/build", `{"prompt": "a desk lamp"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp buildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, models.RunReady, resp.Status)
	assert.Equal(t, []string{"▶ Analyzing..."}, resp.Progress)
	require.Len(t, resp.AgentLog, 1)
	assert.Equal(t, "requirements", resp.AgentLog[0].Stage)
	assert.Contains(t, resp.Project, "requirements")
}

func TestBuildRejectsBadInput(t *testing.T) {
	s := New(config.ServerConfig{}, runnerFunc(readyRunner))
	for _, body := range []string{`not json`, `{"prompt": "  "}`, `{}`} {
		rec := post(t, s, "/build", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestBuildAdmission(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := runnerFunc(func(ctx context.Context, prompt string) (*models.Result, error) {
		once.Do(func() { close(entered) })
		<-release
		return readyRunner(ctx, prompt)
	})
	s := New(config.ServerConfig{MaxConcurrentBuilds: 1}, blocking)

	var wg sync.WaitGroup
	wg.Add(1)
	var first *httptest.ResponseRecorder
	go func() {
		defer wg.Done()
		first = post(t, s, "/build", `{"prompt": "one"}`)
	}()
	<-entered

	rec := post(t, s, "/build", `{"prompt": "two"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// Health checks are not admission controlled.
	health := httptest.NewRecorder()
	s.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)

	close(release)
	wg.Wait()
	assert.Equal(t, http.StatusOK, first.Code)

	// The slot is free again.
	assert.Equal(t, http.StatusOK, post(t, s, "/build", `{"prompt": "three"}`).Code)
}

func TestBuildStream(t *testing.T) {
	s := New(config.ServerConfig{}, runnerFunc(readyRunner))
	rec := post(t, s, "/build/stream", `{"prompt": "a lamp"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: status\ndata: {\"message\":\"▶ Analyzing...\"}\n\n")
	assert.Contains(t, body, "event: result\n")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: {}\n\n"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.CacheHit()

	s := New(config.ServerConfig{}, runnerFunc(readyRunner), WithGatherer(reg))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hwb_cache_lookups_total{result="hit"} 1`)
}
