package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/cache"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/cache/memory"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/extract"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/retry"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/router"
)

type fakeInvoker struct {
	mu    sync.Mutex
	calls []Request
	reply func(n int, req Request) (Response, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.reply(n, req)
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func replyText(text string) func(int, Request) (Response, error) {
	return func(int, Request) (Response, error) {
		return Response{Text: text, Usage: models.Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}
}

type usageLog struct {
	mu   sync.Mutex
	recs []models.UsageRecord
}

func (u *usageLog) Record(_ context.Context, rec models.UsageRecord) error {
	u.mu.Lock()
	u.recs = append(u.recs, rec)
	u.mu.Unlock()
	return nil
}

func testRouter(t *testing.T) *router.Router {
	t.Helper()
	r, err := router.New(&config.Config{
		Providers: []config.ProviderConfig{{Name: "primary"}, {Name: "backup"}},
		Router: config.RouterConfig{Routes: []config.RouteConfig{{
			Model: "smart",
			Targets: []config.RouteTarget{
				{Provider: "primary", Model: "model-a"},
				{Provider: "backup", Model: "model-b"},
			},
		}}},
	})
	require.NoError(t, err)
	return r
}

func noSleep() *retry.Controller {
	return retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Second},
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

var req = Request{Model: "model-x", System: "sys", User: "build a lamp", MaxTokens: 100, RunID: "run-1", Stage: "requirements"}

func TestCacheAvoidsSecondCall(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := cache.New(memory.New(), time.Hour, cache.WithClock(func() time.Time { return now }))
	inv := &fakeInvoker{reply: replyText(`{"a":1}`)}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": inv}, WithCache(c), WithRetry(noSleep()))

	for i := 0; i < 3; i++ {
		text, err := cl.Complete(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, text)
	}
	assert.Equal(t, 1, inv.count())

	now = now.Add(time.Hour + time.Second)
	_, err := cl.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.count(), "expired entry should trigger exactly one new call")

	_, err = cl.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.count())
}

func TestFingerprintIgnoresAttribution(t *testing.T) {
	ctx := context.Background()
	inv := &fakeInvoker{reply: replyText("x")}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": inv},
		WithCache(cache.New(memory.New(), time.Hour)), WithRetry(noSleep()))

	_, _ = cl.Complete(ctx, req)
	other := req
	other.RunID, other.Stage = "run-2", "parts"
	_, _ = cl.Complete(ctx, other)
	assert.Equal(t, 1, inv.count())

	other.User = "build a clock"
	_, _ = cl.Complete(ctx, other)
	assert.Equal(t, 2, inv.count())
}

func TestEmptyResponseNotCached(t *testing.T) {
	ctx := context.Background()
	c := cache.New(memory.New(), time.Hour)
	inv := &fakeInvoker{reply: replyText("  ")}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": inv}, WithCache(c), WithRetry(noSleep()))

	_, _ = cl.Complete(ctx, req)
	_, _ = cl.Complete(ctx, req)
	assert.Equal(t, 2, inv.count())
}

func TestRetriesThenSucceeds(t *testing.T) {
	inv := &fakeInvoker{reply: func(n int, _ Request) (Response, error) {
		if n < 3 {
			return Response{}, &APIError{Provider: "primary", Kind: KindOverloaded, StatusCode: 529, Message: "overloaded"}
		}
		return Response{Text: "[1]"}, nil
	}}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": inv}, WithRetry(noSleep()))

	text, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "[1]", text)
	assert.Equal(t, 3, inv.count())
}

func TestFallbackAfterExhaustion(t *testing.T) {
	primary := &fakeInvoker{reply: func(int, Request) (Response, error) {
		return Response{}, &APIError{Provider: "primary", Kind: KindRateLimit, StatusCode: 429, Message: "slow down"}
	}}
	backup := &fakeInvoker{reply: replyText("from backup")}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": primary, "backup": backup}, WithRetry(noSleep()))

	r := req
	r.Model = "smart"
	text, err := cl.Complete(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "from backup", text)
	assert.Equal(t, 3, primary.count())
	require.Equal(t, 1, backup.count())
	assert.Equal(t, "model-b", backup.calls[0].Model)
	assert.Equal(t, "model-a", primary.calls[0].Model)
}

func TestExhaustedOnLastRoute(t *testing.T) {
	inv := &fakeInvoker{reply: func(int, Request) (Response, error) {
		return Response{}, &APIError{Provider: "primary", Kind: KindServer, StatusCode: 500, Message: "boom"}
	}}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": inv}, WithRetry(noSleep()))

	_, err := cl.Complete(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.StatusCode)
}

func TestFatalDoesNotFallBack(t *testing.T) {
	primary := &fakeInvoker{reply: func(int, Request) (Response, error) {
		return Response{}, &APIError{Provider: "primary", Kind: KindOther, StatusCode: 400, Message: "bad request"}
	}}
	backup := &fakeInvoker{reply: replyText("unused")}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": primary, "backup": backup}, WithRetry(noSleep()))

	r := req
	r.Model = "smart"
	_, err := cl.Complete(context.Background(), r)
	require.Error(t, err)
	assert.NotErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 1, primary.count())
	assert.Equal(t, 0, backup.count())
}

func TestMissingInvoker(t *testing.T) {
	cl := NewClient(testRouter(t), map[string]Invoker{}, WithRetry(noSleep()))
	_, err := cl.Complete(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no invoker for provider "primary"`)
}

func TestUsageRecorded(t *testing.T) {
	usage := &usageLog{}
	m := metrics.New(prometheus.NewRegistry())
	inv := &fakeInvoker{reply: replyText("{}")}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": inv},
		WithRetry(noSleep()), WithUsage(usage), WithMetrics(m), WithCache(cache.New(memory.New(), time.Hour)))

	_, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), req) // cached, no usage
	require.NoError(t, err)

	require.Len(t, usage.recs, 1)
	rec := usage.recs[0]
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "requirements", rec.Stage)
	assert.Equal(t, "primary", rec.Provider)
	assert.Equal(t, "model-x", rec.Model)
	assert.Equal(t, 15, rec.TotalTokens)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.Tokens.WithLabelValues("input")))
}

func TestCompleteJSON(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	inv := &fakeInvoker{reply: replyText("Here:\n```json\n{\"layers\": 2,}\n```")}
	cl := NewClient(testRouter(t), map[string]Invoker{"primary": inv}, WithRetry(noSleep()), WithMetrics(m))

	v, tr, err := cl.CompleteJSON(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"layers": 2.0}, v)
	assert.Equal(t, extract.StrategyFenced, tr.Strategy)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractStrategy.WithLabelValues(extract.StrategyFenced)))

	inv.reply = replyText("no json at all")
	r := req
	r.User = "different"
	_, _, err = cl.CompleteJSON(context.Background(), r)
	assert.ErrorIs(t, err, extract.ErrExtractionFailed)
}

func TestAPIErrorClass(t *testing.T) {
	tests := []struct {
		kind Kind
		want retry.Class
	}{
		{KindRateLimit, retry.Transient},
		{KindOverloaded, retry.Transient},
		{KindServer, retry.Transient},
		{KindConnection, retry.Connection},
		{KindOther, retry.Fatal},
	}
	for _, tt := range tests {
		err := error(&APIError{Kind: tt.kind})
		assert.Equal(t, tt.want, retry.Classify(err), string(tt.kind))
	}
	assert.Equal(t, KindRateLimit, KindForStatus(429))
	assert.Equal(t, KindOverloaded, KindForStatus(529))
	assert.Equal(t, KindServer, KindForStatus(502))
	assert.Equal(t, KindOther, KindForStatus(401))
}
