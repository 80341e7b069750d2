// Package retry wraps a model call with failure classification and
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/status"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    60 * time.Second,
}

// ErrExhausted is matched by every *ExhaustedError.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Controller runs a call until it succeeds, fails fatally, or runs out of attempts.
type Controller struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics counts backoff waits in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSleep replaces the context-aware wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// New creates a Controller. MaxAttempts below one is raised to one.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	c := &Controller{cfg: cfg, logger: zap.NewNop(), sleep: sleepCtx}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CallWithRetry runs fn with a one-off controller.
func CallWithRetry(ctx context.Context, fn func(context.Context) (string, error), maxAttempts int, baseDelay time.Duration) (string, error) {
	return New(Config{MaxAttempts: maxAttempts, BaseDelay: baseDelay}).Do(ctx, fn)
}

// Do calls fn at most MaxAttempts times. Transient failures notify the
// status sink carried by ctx before each wait; connection failures wait
// silently. Any other failure is returned unchanged. There is no wait after
// the final attempt.
func (c *Controller) Do(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err

		class := Classify(err)
		if class == Fatal {
			return "", err
		}
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}

		delay := c.Backoff(attempt)
		c.metrics.Retry(class.String())
		c.logger.Warn("llm retry",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Stringer("class", class),
			zap.Error(err),
		)
		if class == Transient {
			status.FromContext(ctx).OnStatus(fmt.Sprintf("Rate limited, retrying in %.1fs...", delay.Seconds()))
		}

		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", &ExhaustedError{Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

// Backoff returns BaseDelay * 2^attempt, capped at MaxDelay. attempt is zero-indexed.
func (c *Controller) Backoff(attempt int) time.Duration {
	d := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if c.cfg.MaxDelay > 0 && d > float64(c.cfg.MaxDelay) {
		return c.cfg.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
