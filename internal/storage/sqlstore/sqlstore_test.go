package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kitt-test.db")
	s, err := NewSQLite(path, true)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSchemaVersionAfterMigrate(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected schema version 1, got %d", v)
	}
}

func TestUpsertAgentRecoversByName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.UpsertAgent(ctx, domain.Agent{ID: "a1", Name: "nodeA", Hardware: domain.Hardware{CPUArch: "amd64"}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetAgentToken(ctx, a.ID, "abcd1234", "hash1"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	recovered, err := s.UpsertAgent(ctx, domain.Agent{ID: "unknown", Name: "nodeA", Host: "10.0.0.2", Hardware: domain.Hardware{CPUArch: "amd64"}})
	if err != nil {
		t.Fatalf("upsert recovery: %v", err)
	}
	if recovered.ID != a.ID {
		t.Fatalf("expected recovery to reuse id %s, got %s", a.ID, recovered.ID)
	}
	if recovered.TokenHash != "hash1" {
		t.Fatalf("expected token hash preserved, got %q", recovered.TokenHash)
	}

	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected single agent row, got %d", len(agents))
	}
}

func TestSaveAndQueryRunsWithMetrics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		run := domain.Run{
			ID: "run-" + string(rune('a'+i)), Model: "llama-7b", Engine: "vllm",
			Timestamp: base.Add(time.Duration(i) * time.Minute), OutcomeSucceeded: true,
			RawJSON: `{}`,
			Benchmarks: []domain.Benchmark{
				{Name: "throughput", Metrics: []domain.Metric{{Name: "throughput_tps", Value: float64(100 + i)}}},
			},
		}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %d: %v", i, err)
		}
	}

	page, cursor, err := s.QueryRuns(ctx, domain.RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("query runs: %v", err)
	}
	if len(page) != 2 || cursor == "" {
		t.Fatalf("expected 2 results with cursor, got %d results cursor=%q", len(page), cursor)
	}
	if page[0].Benchmarks[0].Metrics[0].Name != "throughput_tps" {
		t.Fatalf("expected metric round-trip, got %+v", page[0].Benchmarks)
	}

	rest, _, err := s.QueryRuns(ctx, domain.RunFilter{Limit: 10, Cursor: cursor})
	if err != nil {
		t.Fatalf("query rest: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining run, got %d", len(rest))
	}

	stats, err := s.Aggregate(ctx, "model", "throughput_tps", domain.RunFilter{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(stats) != 1 || stats[0].Count != 3 {
		t.Fatalf("expected 1 group of 3, got %+v", stats)
	}
}

func TestQuickTestStatusTransitionsSetTimestamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.UpsertAgent(ctx, domain.Agent{ID: "a1", Name: "nodeA", Hardware: domain.Hardware{CPUArch: "amd64"}}); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}
	qt := domain.QuickTest{ID: "qt1", AgentID: "a1", ModelPath: "/models/x.gguf", EngineKey: "llama_cpp", Status: domain.QuickTestQueued}
	if err := s.CreateQuickTest(ctx, qt); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpdateQuickTestStatus(ctx, "qt1", domain.QuickTestDispatched, ""); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := s.UpdateQuickTestStatus(ctx, "qt1", domain.QuickTestRunning, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := s.UpdateQuickTestStatus(ctx, "qt1", domain.QuickTestCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := s.GetQuickTest(ctx, "qt1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected started_at and completed_at to be set, got %+v", got)
	}
}

func TestCampaignConfigEditableOnlyWhileDraft(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.CreateCampaign(ctx, domain.Campaign{ID: "c1", Name: "c1", ConfigYAML: "campaign_name: c1", Status: domain.CampaignDraft}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpdateCampaignConfig(ctx, "c1", "campaign_name: c1-edited", domain.CampaignConfig{CampaignName: "c1-edited"}); err != nil {
		t.Fatalf("expected draft campaign editable: %v", err)
	}
	if err := s.UpdateCampaignStatus(ctx, "c1", domain.CampaignQueued, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.UpdateCampaignConfig(ctx, "c1", "campaign_name: nope", domain.CampaignConfig{}); err == nil {
		t.Fatal("expected queued campaign to reject config edits")
	}
}

func TestEventTailIsOrderedAndFiltered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.AppendEvent(ctx, domain.Event{Type: domain.EventLog, SourceID: "qt1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := s.AppendEvent(ctx, domain.Event{Type: domain.EventLog, SourceID: "qt2"}); err != nil {
		t.Fatalf("append other source: %v", err)
	}

	events, err := s.TailEvents(ctx, "qt1", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events for qt1, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].SeqID <= events[i-1].SeqID {
			t.Fatalf("expected ascending seq_id, got %d then %d", events[i-1].SeqID, events[i].SeqID)
		}
	}
}
