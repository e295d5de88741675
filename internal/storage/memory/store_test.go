package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
)

func TestUpsertAgentPreservesTokenOnRecovery(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, err := s.UpsertAgent(ctx, domain.Agent{ID: "a1", Name: "nodeA"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetAgentToken(ctx, a.ID, "abcd1234", "hash1"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	// Simulate recovery: new request, unknown ID, same name.
	recovered, err := s.UpsertAgent(ctx, domain.Agent{ID: "unknown-id", Name: "nodeA", Host: "10.0.0.2"})
	if err != nil {
		t.Fatalf("upsert recovery: %v", err)
	}
	if recovered.ID != a.ID {
		t.Fatalf("expected recovery to reuse existing id %s, got %s", a.ID, recovered.ID)
	}
	if recovered.TokenHash != "hash1" {
		t.Fatalf("expected token hash preserved, got %q", recovered.TokenHash)
	}

	agents, _ := s.ListAgents(ctx)
	if len(agents) != 1 {
		t.Fatalf("expected single agent row after recovery, got %d", len(agents))
	}
}

func TestQueryRunsPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()
	for i := 0; i < 5; i++ {
		_ = s.SaveRun(ctx, domain.Run{
			ID:        "run-" + string(rune('a'+i)),
			Model:     "llama",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page1, cursor1, err := s.QueryRuns(ctx, domain.RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page1) != 2 || cursor1 == "" {
		t.Fatalf("expected 2 results with a cursor, got %d results cursor=%q", len(page1), cursor1)
	}

	page2, _, err := s.QueryRuns(ctx, domain.RunFilter{Limit: 10, Cursor: cursor1})
	if err != nil {
		t.Fatalf("query page2: %v", err)
	}
	if len(page2) != 3 {
		t.Fatalf("expected remaining 3 results, got %d", len(page2))
	}
}

func TestAggregateNullSkip(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.SaveRun(ctx, domain.Run{ID: "r1", Model: "llama", Timestamp: time.Now(),
		Benchmarks: []domain.Benchmark{{Name: "throughput", Metrics: []domain.Metric{{Name: "throughput_tps", Value: 100}}}}})
	_ = s.SaveRun(ctx, domain.Run{ID: "r2", Model: "llama", Timestamp: time.Now()}) // no metrics at all

	stats, err := s.Aggregate(ctx, "model", "throughput_tps", domain.RunFilter{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 group, got %d", len(stats))
	}
	if stats[0].Count != 1 {
		t.Fatalf("expected the metric-less run to be skipped, count=%d", stats[0].Count)
	}
	if stats[0].Mean != 100 {
		t.Fatalf("expected mean 100, got %v", stats[0].Mean)
	}
}

func TestCampaignConfigEditableOnlyWhileDraft(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.CreateCampaign(ctx, domain.Campaign{ID: "c1", Status: domain.CampaignDraft})

	if err := s.UpdateCampaignConfig(ctx, "c1", "name: x", domain.CampaignConfig{}); err != nil {
		t.Fatalf("expected draft campaign editable: %v", err)
	}

	_ = s.UpdateCampaignStatus(ctx, "c1", domain.CampaignQueued, "")
	if err := s.UpdateCampaignConfig(ctx, "c1", "name: y", domain.CampaignConfig{}); err == nil {
		t.Fatal("expected queued campaign to reject config edits")
	}
}
