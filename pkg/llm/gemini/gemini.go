// Package gemini invokes Google's Gemini API through the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/genai"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/llm"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

// Client is an llm.Invoker for one configured Gemini provider.
type Client struct {
	name   string
	client *genai.Client
}

// New creates a Client from a provider entry. p.URL overrides the API base URL.
func New(ctx context.Context, p config.ProviderConfig) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      p.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: p.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: p.URL},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{name: p.Name, client: c}, nil
}

// Invoke sends one generateContent request.
func (c *Client) Invoke(ctx context.Context, req llm.Request) (llm.Response, error) {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(req.MaxTokens)}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.User), cfg)
	if err != nil {
		return llm.Response{}, c.classify(ctx, err)
	}

	out := llm.Response{Text: resp.Text(), Model: resp.ModelVersion}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = models.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.APIError{
			Provider:   c.name,
			Kind:       llm.KindForStatus(apiErr.Code),
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &llm.APIError{
			Provider:   c.name,
			Kind:       llm.KindForStatus(apiErrPtr.Code),
			StatusCode: apiErrPtr.Code,
			Message:    apiErrPtr.Message,
			Err:        err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &llm.APIError{Provider: c.name, Kind: llm.KindConnection, Message: err.Error(), Err: err}
	}
	return &llm.APIError{Provider: c.name, Kind: llm.KindOther, Message: err.Error(), Err: err}
}
