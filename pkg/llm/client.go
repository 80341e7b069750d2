package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/cache"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/extract"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/retry"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/router"
)

// Client composes the response cache, the retry controller and the
// provider fallback chain around the invokers.
type Client struct {
	router   *router.Router
	invokers map[string]Invoker
	cache    *cache.Cache
	retry    *retry.Controller
	usage    UsageRecorder
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithCache enables response caching.
func WithCache(c *cache.Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithRetry replaces the default retry controller.
func WithRetry(r *retry.Controller) Option {
	return func(cl *Client) { cl.retry = r }
}

// WithUsage records token usage of every uncached call.
func WithUsage(u UsageRecorder) Option {
	return func(cl *Client) { cl.usage = u }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithMetrics reports token and extraction counters to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates a Client. invokers is keyed by provider name.
func NewClient(r *router.Router, invokers map[string]Invoker, opts ...Option) *Client {
	c := &Client{
		router:   r,
		invokers: invokers,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry == nil {
		c.retry = retry.New(retry.DefaultConfig, retry.WithLogger(c.logger), retry.WithMetrics(c.metrics))
	}
	return c
}

// Complete returns the raw response text for req. Each route of the model's
// fallback chain is tried in order; the next route is used only after the
// previous one exhausted its retries.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	routes, err := c.router.Resolve(req.Model)
	if err != nil {
		return "", eris.Wrap(err, "resolve model")
	}

	var lastErr error
	for i, route := range routes {
		inv, ok := c.invokers[route.Provider.Name]
		if !ok {
			lastErr = eris.Errorf("no invoker for provider %q", route.Provider.Name)
			continue
		}
		r := req
		r.Model = route.Model

		text, err := c.complete(ctx, route.Provider.Name, inv, r)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, retry.ErrExhausted) {
			return "", err
		}
		if i < len(routes)-1 {
			c.logger.Warn("llm fallback",
				zap.String("provider", route.Provider.Name),
				zap.String("model", route.Model),
				zap.String("next_provider", routes[i+1].Provider.Name),
				zap.Error(err),
			)
		}
	}
	return "", lastErr
}

func (c *Client) complete(ctx context.Context, provider string, inv Invoker, req Request) (string, error) {
	fp := cache.Fingerprint(req.Model, req.System, req.User)
	if c.cache != nil {
		if text, ok := c.cache.Get(ctx, fp); ok {
			c.logger.Info("cache hit",
				zap.String("stage", req.Stage),
				zap.String("model", req.Model),
				zap.String("fingerprint", fp[:16]),
			)
			return text, nil
		}
	}

	text, err := c.retry.Do(ctx, func(ctx context.Context) (string, error) {
		resp, err := inv.Invoke(ctx, req)
		if err != nil {
			return "", err
		}
		c.recordUsage(ctx, provider, req, resp)
		return resp.Text, nil
	})
	if err != nil {
		return "", err
	}

	if c.cache != nil && strings.TrimSpace(text) != "" {
		if err := c.cache.Put(ctx, fp, text); err != nil {
			c.logger.Warn("cache put failed", zap.String("fingerprint", fp[:16]), zap.Error(err))
		}
	}
	return text, nil
}

func (c *Client) recordUsage(ctx context.Context, provider string, req Request, resp Response) {
	c.metrics.AddTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if c.usage == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	err := c.usage.Record(ctx, models.UsageRecord{
		RunID:        req.RunID,
		Stage:        req.Stage,
		Provider:     provider,
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.Total(),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("usage record failed", zap.Error(err))
	}
}

// CompleteJSON is Complete followed by extraction of a JSON object or array.
func (c *Client) CompleteJSON(ctx context.Context, req Request) (any, extract.Trace, error) {
	text, err := c.Complete(ctx, req)
	if err != nil {
		return nil, extract.Trace{}, err
	}
	v, tr, err := extract.ExtractWithTrace(text)
	if err != nil {
		c.logger.Warn("extraction failed",
			zap.String("stage", req.Stage),
			zap.Strings("tried", tr.Tried),
			zap.Error(err),
		)
		return nil, tr, err
	}
	c.metrics.Extracted(tr.Strategy)
	if tr.Strategy != extract.StrategyDirect {
		c.logger.Debug("json recovered", zap.String("stage", req.Stage), zap.String("strategy", tr.Strategy))
	}
	return v, tr, nil
}
