package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tr, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRecordAndByRun(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, stage := range []string{"requirements", "parts"} {
		rec := models.UsageRecord{
			RunID:        "run-1",
			Stage:        stage,
			Provider:     "anthropic",
			Model:        "claude-opus-4-6",
			InputTokens:  100,
			OutputTokens: 50,
			CreatedAt:    now,
		}
		if err := tr.Record(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	_ = tr.Record(ctx, models.UsageRecord{RunID: "run-2", Provider: "anthropic", Model: "m", InputTokens: 1})

	records, err := tr.ByRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Stage != "requirements" || records[1].Stage != "parts" {
		t.Errorf("unexpected order: %s, %s", records[0].Stage, records[1].Stage)
	}
	if records[0].TotalTokens != 150 {
		t.Errorf("expected total to default to 150, got %d", records[0].TotalTokens)
	}
}

func TestTotalSince(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 3 {
		_ = tr.Record(ctx, models.UsageRecord{
			Provider: "anthropic", Model: "claude",
			InputTokens: 100, OutputTokens: 50, TotalTokens: 150,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "anthropic", Model: "claude",
		TotalTokens: 1000, CreatedAt: now.Add(-time.Hour),
	})

	total, err := tr.TotalSince(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if total != 450 {
		t.Errorf("expected 450, got %d", total)
	}
}

func TestSummary(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "anthropic", Model: "claude",
		InputTokens: 100, OutputTokens: 50, TotalTokens: 150,
		CreatedAt: now,
	})
	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "anthropic", Model: "claude",
		InputTokens: 10, OutputTokens: 5, TotalTokens: 15,
		CreatedAt: now,
	})
	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "gemini", Model: "gemini-pro",
		InputTokens: 200, OutputTokens: 100, TotalTokens: 300,
		CreatedAt: now,
	})

	summaries, err := tr.Summary(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Calls != 2 || summaries[0].TotalTokens != 165 {
		t.Errorf("unexpected anthropic summary: %+v", summaries[0])
	}

	// Filter by model
	summaries, err = tr.Summary(ctx, "gemini-pro")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].Provider != "gemini" {
		t.Errorf("expected gemini, got %s", summaries[0].Provider)
	}
}

func TestImplementsUsageRecorder(t *testing.T) {
	var _ interface {
		Record(context.Context, models.UsageRecord) error
	} = newTestTracker(t)
}
