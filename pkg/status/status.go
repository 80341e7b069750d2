// Package status carries human-readable progress notifications out of a
// pipeline run.
package status

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sink receives progress notifications.
type Sink interface {
	OnStatus(text string)
}

// Func adapts a plain function to a Sink.
type Func func(text string)

// OnStatus calls f.
func (f Func) OnStatus(text string) { f(text) }

type nop struct{}

func (nop) OnStatus(string) {}

// Nop discards every notification. It is the default wherever a Sink is optional.
var Nop Sink = nop{}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop
	}
	return s
}

// Multi fans a notification out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) OnStatus(text string) {
	for _, s := range m {
		s.OnStatus(text)
	}
}

// Log writes notifications to a zap logger at info level.
func Log(logger *zap.Logger) Sink {
	return Func(func(text string) {
		logger.Info("status", zap.String("text", text))
	})
}

// Collector records notifications in order. Safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	lines []string
}

// OnStatus appends text.
func (c *Collector) OnStatus(text string) {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
}

// Lines returns a copy of everything recorded so far.
func (c *Collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

type ctxKey struct{}

// WithSink returns a context carrying s.
func WithSink(ctx context.Context, s Sink) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the sink stored in ctx, or Nop.
func FromContext(ctx context.Context) Sink {
	if s, ok := ctx.Value(ctxKey{}).(Sink); ok && s != nil {
		return s
	}
	return Nop
}
