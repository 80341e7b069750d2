package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/llm"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/retry"
)

func TestInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req models.AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		assert.Equal(t, "be terse", req.System)
		assert.Equal(t, 256, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "hello", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}],
			"usage":{"input_tokens":12,"output_tokens":4}}`))
	}))
	defer srv.Close()

	c := New(config.ProviderConfig{Name: "anthropic", URL: srv.URL + "/", APIKey: "sk-test", Timeout: time.Second})
	resp, err := c.Invoke(context.Background(), llm.Request{Model: "claude-test", System: "be terse", User: "hello", MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, models.Usage{InputTokens: 12, OutputTokens: 4}, resp.Usage)
}

func TestInvokeStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   llm.Kind
		class  retry.Class
	}{
		{429, llm.KindRateLimit, retry.Transient},
		{529, llm.KindOverloaded, retry.Transient},
		{500, llm.KindServer, retry.Transient},
		{400, llm.KindOther, retry.Fatal},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"type":"error","error":{"type":"some_error","message":"nope"}}`))
		}))

		c := New(config.ProviderConfig{Name: "anthropic", URL: srv.URL})
		_, err := c.Invoke(context.Background(), llm.Request{Model: "m", User: "x"})
		srv.Close()

		var apiErr *llm.APIError
		require.True(t, errors.As(err, &apiErr), "status %d", tt.status)
		assert.Equal(t, tt.kind, apiErr.Kind)
		assert.Equal(t, tt.status, apiErr.StatusCode)
		assert.Equal(t, "nope", apiErr.Message)
		assert.Equal(t, tt.class, retry.Classify(err))
	}
}

func TestInvokeConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(config.ProviderConfig{Name: "anthropic", URL: url})
	_, err := c.Invoke(context.Background(), llm.Request{Model: "m", User: "x"})
	require.Error(t, err)
	assert.Equal(t, retry.Connection, retry.Classify(err))
}

func TestInvokeCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(config.ProviderConfig{Name: "anthropic", URL: srv.URL})
	_, err := c.Invoke(ctx, llm.Request{Model: "m", User: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, retry.Fatal, retry.Classify(err))
}

func TestErrorMessageFallsBackToBody(t *testing.T) {
	assert.Equal(t, "upstream down", errorMessage([]byte("upstream down\n")))
}
