// Package pipeline runs a fixed sequence of stages and folds their outputs
// into one result.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/status"
)

var tracer = otel.Tracer("github.com/joshuajerin/cv-opus-hackathon/pkg/pipeline")

// Handler executes one stage.
type Handler interface {
	Handle(ctx context.Context, msg *models.StageMessage) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, msg *models.StageMessage) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *models.StageMessage) (any, error) {
	return f(ctx, msg)
}

// Summarizer is implemented by handlers that can describe their result in
// a few words for status notifications.
type Summarizer interface {
	Summarize(result any) string
}

// Dispatcher routes stage messages to registered handlers. Handler failures
// are recorded on the message and never returned to the caller.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDispatchMetrics reports every dispatch to m.
func WithDispatchMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler), logger: zap.NewNop()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register binds a handler to a stage id, replacing any previous one.
func (d *Dispatcher) Register(stage string, h Handler) {
	d.mu.Lock()
	d.handlers[stage] = h
	d.mu.Unlock()
}

func (d *Dispatcher) handler(stage string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[stage]
	return h, ok
}

// Dispatch runs the handler for msg.To and returns its result, or nil when
// the stage is not registered or the handler failed. msg carries the final
// status, error and duration.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.StageMessage) any {
	result, _ := d.dispatch(ctx, msg)
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *models.StageMessage) (any, error) {
	h, ok := d.handler(msg.To)
	if !ok {
		err := &StageNotRegisteredError{Stage: msg.To}
		_ = msg.Transition(models.StatusError)
		msg.Error = err.Error()
		d.logger.Warn("stage not registered", zap.String("stage", msg.To), zap.String("run_id", msg.RunID))
		d.metrics.ObserveStage(msg.To, string(models.StatusError), 0)
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "stage "+msg.To,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("hwb.run_id", msg.RunID),
			attribute.String("hwb.stage", msg.To),
			attribute.String("hwb.task", msg.Task),
		),
	)
	defer span.End()

	if err := msg.Transition(models.StatusInProgress); err != nil {
		return nil, err
	}
	d.logger.Info("stage start", zap.String("stage", msg.To), zap.String("task", msg.Task), zap.String("run_id", msg.RunID))

	start := time.Now()
	result, err := invoke(ctx, h, msg)
	elapsed := time.Since(start)
	msg.DurationMs = elapsed.Milliseconds()

	if err != nil {
		failed := &StageHandlerFailedError{Stage: msg.To, Err: err}
		_ = msg.Transition(models.StatusError)
		msg.Error = failed.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, msg.Error)
		d.logger.Error("stage failed",
			zap.String("stage", msg.To),
			zap.String("run_id", msg.RunID),
			zap.Int64("duration_ms", msg.DurationMs),
			zap.Error(err),
		)
		d.metrics.ObserveStage(msg.To, string(models.StatusError), elapsed)
		status.FromContext(ctx).OnStatus(fmt.Sprintf("   ❌ %s: %v", msg.To, err))
		return nil, failed
	}

	_ = msg.Transition(models.StatusDone)
	msg.Result = result
	d.logger.Info("stage done",
		zap.String("stage", msg.To),
		zap.String("run_id", msg.RunID),
		zap.Int64("duration_ms", msg.DurationMs),
	)
	d.metrics.ObserveStage(msg.To, string(models.StatusDone), elapsed)
	return result, nil
}

func invoke(ctx context.Context, h Handler, msg *models.StageMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, msg)
}

// Summarize describes result using the stage's handler when it implements
// Summarizer, or a generic count otherwise.
func (d *Dispatcher) Summarize(stage string, result any) string {
	if h, ok := d.handler(stage); ok {
		if s, ok := h.(Summarizer); ok {
			return s.Summarize(result)
		}
	}
	return Describe(result)
}

// Describe returns "N items" for arrays, "N fields" for objects and "ok"
// for anything else.
func Describe(v any) string {
	switch t := v.(type) {
	case []any:
		return fmt.Sprintf("%d items", len(t))
	case map[string]any:
		return fmt.Sprintf("%d fields", len(t))
	default:
		return "ok"
	}
}
