// Package anthropic invokes the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/llm"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

const (
	// DefaultURL is the public API endpoint.
	DefaultURL = "https://api.anthropic.com"
	apiVersion = "2023-06-01"
)

// Client is an llm.Invoker for one configured Anthropic provider.
type Client struct {
	name   string
	url    string
	apiKey string
	http   *http.Client
}

// New creates a Client from a provider entry.
func New(p config.ProviderConfig) *Client {
	u := p.URL
	if u == "" {
		u = DefaultURL
	}
	return &Client{
		name:   p.Name,
		url:    strings.TrimRight(u, "/"),
		apiKey: p.APIKey,
		http:   &http.Client{Timeout: p.Timeout},
	}
}

// Invoke sends one /v1/messages request.
func (c *Client) Invoke(ctx context.Context, req llm.Request) (llm.Response, error) {
	body, err := json.Marshal(models.AnthropicRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Messages:  []models.ChatMessage{{Role: "user", Content: req.User}},
	})
	if err != nil {
		return llm.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	target, err := url.JoinPath(c.url, "v1", "messages")
	if err != nil {
		return llm.Response{}, fmt.Errorf("parse provider URL: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{}, &llm.APIError{Provider: c.name, Kind: llm.KindConnection, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{}, &llm.APIError{Provider: c.name, Kind: llm.KindConnection, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.Response{}, &llm.APIError{
			Provider:   c.name,
			Kind:       llm.KindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	var ar models.AnthropicResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return llm.Response{}, &llm.APIError{
			Provider:   c.name,
			Kind:       llm.KindOther,
			StatusCode: resp.StatusCode,
			Message:    "decode response: " + err.Error(),
			Err:        err,
		}
	}

	var text strings.Builder
	for _, block := range ar.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return llm.Response{Text: text.String(), Model: ar.Model, Usage: ar.Usage.ToUsage()}, nil
}

func errorMessage(body []byte) string {
	var ae models.AnthropicError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		return ae.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
