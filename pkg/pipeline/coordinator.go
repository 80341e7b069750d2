package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/status"
)

// Stage is one step of the fixed sequence.
type Stage struct {
	ID    string
	Label string
	Task  string
	// Expect is "object", "array" or empty. It selects the placeholder
	// handed to later stages when this one fails.
	Expect string
}

// Recorder persists finished runs.
type Recorder interface {
	Save(ctx context.Context, r *models.Result) error
}

// Coordinator runs the stage sequence through a Dispatcher.
type Coordinator struct {
	dispatcher *Dispatcher
	stages     []Stage
	sink       status.Sink
	recorder   Recorder
	logger     *zap.Logger
	metrics    *metrics.Metrics
	newID      func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSink sends progress notifications of every run to s, in addition to
// any sink carried by the run's context.
func WithSink(s status.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithRecorder persists every finished run.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics reports run outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithIDGenerator replaces the uuid run id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// NewCoordinator creates a Coordinator. stages must not be empty.
func NewCoordinator(d *Dispatcher, stages []Stage, opts ...Option) (*Coordinator, error) {
	if len(stages) == 0 {
		return nil, eris.New("pipeline needs at least one stage")
	}
	c := &Coordinator{
		dispatcher: d,
		stages:     stages,
		logger:     zap.NewNop(),
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Stages returns the configured sequence.
func (c *Coordinator) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

// Run executes every stage in order and returns the accumulated result.
// The result is never nil. The error is non-nil only when the run was
// halted: the first stage failed (*FirstStageFailedError) or ctx ended.
func (c *Coordinator) Run(ctx context.Context, prompt string) (*models.Result, error) {
	res := models.NewResult(c.newID(), prompt)
	start := time.Now()

	sink := status.Multi(c.sink, status.FromContext(ctx))
	ctx = status.WithSink(ctx, sink)

	ctx, span := tracer.Start(ctx, "pipeline run")
	span.SetAttributes(attribute.String("hwb.run_id", res.ID))
	defer span.End()

	c.logger.Info("pipeline start", zap.String("run_id", res.ID), zap.Int("stages", len(c.stages)))

	err := c.run(ctx, res, sink)

	res.DurationMs = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.String("hwb.status", string(res.Status)))
	c.metrics.ObservePipeline(string(res.Status), time.Since(start))
	c.logger.Info("pipeline done",
		zap.String("run_id", res.ID),
		zap.String("status", string(res.Status)),
		zap.Int("errors", len(res.Errors)),
		zap.Int64("total_ms", res.DurationMs),
	)

	if c.recorder != nil {
		if rerr := c.recorder.Save(context.WithoutCancel(ctx), res); rerr != nil {
			c.logger.Warn("run not recorded", zap.String("run_id", res.ID), zap.Error(rerr))
		}
	}
	return res, err
}

func (c *Coordinator) run(ctx context.Context, res *models.Result, sink status.Sink) error {
	// upstream feeds later stages. A failed stage contributes a placeholder.
	upstream := map[string]any{"prompt": res.Prompt}
	for i, st := range c.stages {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", st.ID, err))
			res.Status = models.RunError
			if len(res.Outputs) > 0 {
				res.Status = models.RunPartial
			}
			sink.OnStatus(fmt.Sprintf("⛔ Run canceled before %s", label(st)))
			return eris.Wrapf(err, "run canceled before stage %s", st.ID)
		}

		sink.OnStatus(fmt.Sprintf("▶ %s...", label(st)))
		msg := models.NewStageMessage(res.ID, "coordinator", st.ID, st.Task, clone(upstream))
		result, err := c.dispatcher.dispatch(ctx, msg)
		res.Messages = append(res.Messages, *msg)

		if err == nil && isEmpty(result) {
			err = eris.Errorf("empty result")
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", st.ID, err))
			if i == 0 {
				res.Status = models.RunError
				sink.OnStatus(fmt.Sprintf("❌ Project error: %s failed", st.ID))
				return &FirstStageFailedError{Stage: st.ID, Err: err}
			}
			upstream[st.ID] = placeholder(st.Expect)
			continue
		}

		res.Outputs[st.ID] = result
		upstream[st.ID] = result
		sink.OnStatus(fmt.Sprintf("   ✅ %s: %s", st.ID, c.dispatcher.Summarize(st.ID, result)))
	}

	if len(res.Errors) == 0 {
		res.Status = models.RunReady
		sink.OnStatus("✅ Project ready")
	} else {
		res.Status = models.RunPartial
		sink.OnStatus(fmt.Sprintf("⚠️ Project partial: %d stage errors", len(res.Errors)))
	}
	return nil
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func label(st Stage) string {
	if st.Label != "" {
		return st.Label
	}
	return st.ID
}

func placeholder(expect string) any {
	switch expect {
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return nil
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}
