package campaign

import (
	"context"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/eventbus"
	"github.com/kitt-bench/controller/internal/quicktest"
	"github.com/kitt-bench/controller/internal/storage/memory"
	"github.com/kitt-bench/controller/internal/system"
	"github.com/kitt-bench/controller/pkg/logger"
)

type nopQueuer struct{}

func (nopQueuer) QueueCommand(ctx context.Context, cmd domain.PendingCommand) error { return nil }

func TestExecutorRunsAllCellsAgainstTestAgent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bus := eventbus.New(store)
	engines := catalog.NewEngineRegistry()
	disp := quicktest.New(store, bus, engines, catalog.NewBenchmarkRegistry(), nopQueuer{}, logger.NewDefault("test"))

	if _, err := store.UpsertAgent(ctx, domain.Agent{ID: "t1", Name: "t1", IsTestAgent: true, Status: domain.AgentOnline, Hardware: domain.Hardware{CPUArch: "amd64"}}); err != nil {
		t.Fatalf("register agent: %v", err)
	}

	cfg := domain.CampaignConfig{
		CampaignName: "smoke",
		Models: []domain.ModelSpec{
			{Name: "m1", SafetensorsRepo: "org/m1", SizeGB: 3},
			{Name: "m2", SafetensorsRepo: "org/m2", SizeGB: 4},
		},
		Engines: []domain.EngineSpec{{Name: "vllm", Suite: "throughput"}},
	}
	configYAML, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}

	campaignID := "c1"
	if err := store.CreateCampaign(ctx, domain.Campaign{
		ID: campaignID, Name: cfg.CampaignName, ConfigYAML: string(configYAML), Config: cfg,
		Status: domain.CampaignDraft, AgentID: "t1", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if err := store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignQueued, ""); err != nil {
		t.Fatalf("queue campaign: %v", err)
	}

	exec := NewExecutor(store, bus, engines, disp, nopQueuer{}, logger.NewDefault("test"), campaignID)
	if err := exec.Start(ctx); err != nil {
		t.Fatalf("start executor: %v", err)
	}

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		c, err := store.GetCampaign(ctx, campaignID)
		if err != nil {
			t.Fatalf("get campaign: %v", err)
		}
		if c.Status == domain.CampaignCompleted {
			if c.Succeeded != 2 || c.TotalRuns != 2 {
				t.Fatalf("expected 2/2 succeeded, got %+v", c)
			}
			_ = exec.Stop(ctx)
			return
		}
		if c.Status == domain.CampaignFailed {
			t.Fatalf("campaign unexpectedly failed: %s", c.Error)
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("campaign did not complete in time")
}

func TestExecutorRejectsLaunchFromTerminalStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bus := eventbus.New(store)
	engines := catalog.NewEngineRegistry()
	disp := quicktest.New(store, bus, engines, catalog.NewBenchmarkRegistry(), nopQueuer{}, logger.NewDefault("test"))

	if err := store.CreateCampaign(ctx, domain.Campaign{ID: "c1", Status: domain.CampaignCompleted, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	launcher := NewLauncher(store, bus, engines, disp, nopQueuer{}, fakeAttacher{}, logger.NewDefault("test"))
	if _, err := launcher.Launch(ctx, "c1"); err == nil {
		t.Fatal("expected launch of a completed campaign to fail")
	}
}

type fakeAttacher struct{}

func (fakeAttacher) Attach(ctx context.Context, svc system.Service) error {
	return svc.Start(ctx)
}
