// Package stages provides the config-driven stage handler: one model call
// per stage, with the reply recovered into a JSON value.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/extract"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/llm"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/pipeline"
)

// Completer is the part of llm.Client a stage needs.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.Request) (any, extract.Trace, error)
}

// Prompted handles a stage by prompting a model with the stage's system
// instructions and the upstream payload.
type Prompted struct {
	cfg   config.StageConfig
	model string
	llm   Completer
}

// New creates a Prompted handler. The stage's own model, when set, wins
// over defaultModel.
func New(cfg config.StageConfig, defaultModel string, c Completer) *Prompted {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Prompted{cfg: cfg, model: model, llm: c}
}

// Handle implements pipeline.Handler.
func (p *Prompted) Handle(ctx context.Context, msg *models.StageMessage) (any, error) {
	user, err := render(msg)
	if err != nil {
		return nil, err
	}

	v, _, err := p.llm.CompleteJSON(ctx, llm.Request{
		Model:     p.model,
		System:    p.cfg.System,
		User:      user,
		MaxTokens: p.cfg.MaxTokens,
		RunID:     msg.RunID,
		Stage:     p.cfg.ID,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "stage %s", p.cfg.ID)
	}

	switch p.cfg.Expect {
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return nil, eris.Errorf("stage %s: expected a JSON object, got %s", p.cfg.ID, kind(v))
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return nil, eris.Errorf("stage %s: expected a JSON array, got %s", p.cfg.ID, kind(v))
		}
	}
	return v, nil
}

// Summarize implements pipeline.Summarizer.
func (p *Prompted) Summarize(result any) string {
	if m, ok := result.(map[string]any); ok {
		if name, ok := m["project_name"].(string); ok && name != "" {
			return fmt.Sprintf("%s (%d fields)", name, len(m))
		}
	}
	return pipeline.Describe(result)
}

// render builds the user content: the task name followed by the payload as
// indented JSON. A payload holding only the prompt is sent as plain text.
func render(msg *models.StageMessage) (string, error) {
	if len(msg.Payload) == 1 {
		if prompt, ok := msg.Payload["prompt"].(string); ok {
			return prompt, nil
		}
	}
	b, err := json.MarshalIndent(msg.Payload, "", "  ")
	if err != nil {
		return "", eris.Wrapf(err, "render payload for %s", msg.To)
	}
	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(msg.Task)
	sb.WriteString("\n\n")
	sb.Write(b)
	return sb.String(), nil
}

func kind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Register binds a Prompted handler for every configured stage and returns
// the stage sequence in configuration order.
func Register(d *pipeline.Dispatcher, cfg *config.Config, c Completer) []pipeline.Stage {
	seq := make([]pipeline.Stage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		d.Register(sc.ID, New(sc, cfg.Model, c))
		seq = append(seq, pipeline.Stage{ID: sc.ID, Label: sc.Label, Task: sc.Task, Expect: sc.Expect})
	}
	return seq
}
