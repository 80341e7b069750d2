// Package llm is the boundary to the generative model providers.
package llm

import (
	"context"
	"fmt"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/retry"
)

// Request is one model call. RunID and Stage only attribute usage and are
// not part of the cache fingerprint.
type Request struct {
	Model     string
	System    string
	User      string
	MaxTokens int
	RunID     string
	Stage     string
}

// Response is the raw text returned by a provider.
type Response struct {
	Text  string
	Model string
	Usage models.Usage
}

// Invoker sends a single request to a provider, without retries.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// InvokerFunc adapts a function to an Invoker.
type InvokerFunc func(ctx context.Context, req Request) (Response, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// UsageRecorder persists token usage of uncached calls.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Kind classifies a provider failure.
type Kind string

const (
	KindRateLimit  Kind = "rate_limit"
	KindOverloaded Kind = "overloaded"
	KindServer     Kind = "server"
	KindConnection Kind = "connection"
	KindOther      Kind = "other"
)

// KindForStatus maps an HTTP status code onto a Kind.
func KindForStatus(code int) Kind {
	switch {
	case code == 429:
		return KindRateLimit
	case code == 529 || code == 503:
		return KindOverloaded
	case code >= 500:
		return KindServer
	default:
		return KindOther
	}
}

// APIError is a classified provider failure.
type APIError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// RetryClass implements retry.Classifier.
func (e *APIError) RetryClass() retry.Class {
	switch e.Kind {
	case KindRateLimit, KindOverloaded, KindServer:
		return retry.Transient
	case KindConnection:
		return retry.Connection
	default:
		return retry.Fatal
	}
}
