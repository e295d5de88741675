package quicktest

import (
	"context"
	"testing"
	"time"

	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/eventbus"
	"github.com/kitt-bench/controller/internal/storage/memory"
	"github.com/kitt-bench/controller/pkg/logger"
)

type fakeQueuer struct {
	queued []domain.PendingCommand
}

func (f *fakeQueuer) QueueCommand(ctx context.Context, cmd domain.PendingCommand) error {
	f.queued = append(f.queued, cmd)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *memory.Store, *fakeQueuer) {
	t.Helper()
	store := memory.New()
	bus := eventbus.New(store)
	queuer := &fakeQueuer{}
	d := New(store, bus, catalog.NewEngineRegistry(), catalog.NewBenchmarkRegistry(), queuer, logger.NewDefault("test"))
	return d, store, queuer
}

func mustRegisterAgent(t *testing.T, store *memory.Store, a domain.Agent) {
	t.Helper()
	if _, err := store.UpsertAgent(context.Background(), a); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}
}

func TestCreateQueuesCommandForRealAgent(t *testing.T) {
	d, store, queuer := newTestDispatcher(t)
	ctx := context.Background()
	mustRegisterAgent(t, store, domain.Agent{ID: "a1", Name: "a1", Hardware: domain.Hardware{CPUArch: "amd64"}, Status: domain.AgentOnline})

	qt, err := d.Create(ctx, CreateRequest{AgentID: "a1", ModelPath: "model.safetensors", EngineKey: "vllm", Suite: "throughput"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if qt.Status != domain.QuickTestQueued {
		t.Fatalf("expected queued, got %s", qt.Status)
	}
	if len(queuer.queued) != 1 || queuer.queued[0].Kind != domain.CommandRunTest {
		t.Fatalf("expected one run_test command queued, got %+v", queuer.queued)
	}
}

func TestCreateRejectsUnsupportedFormat(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	mustRegisterAgent(t, store, domain.Agent{ID: "a1", Name: "a1", Hardware: domain.Hardware{CPUArch: "amd64"}, Status: domain.AgentOnline})

	_, err := d.Create(ctx, CreateRequest{AgentID: "a1", ModelPath: "model.gguf", EngineKey: "vllm", Suite: "throughput"})
	if err == nil {
		t.Fatal("expected preflight rejection for gguf on vllm")
	}
}

func TestCreateRejectsUnsupportedArch(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	mustRegisterAgent(t, store, domain.Agent{ID: "a1", Name: "a1", Hardware: domain.Hardware{CPUArch: "arm64"}, Status: domain.AgentOnline})

	_, err := d.Create(ctx, CreateRequest{AgentID: "a1", ModelPath: "model.safetensors", EngineKey: "tgi", Suite: "throughput"})
	if err == nil {
		t.Fatal("expected preflight rejection, tgi does not support arm64")
	}
}

func TestForceBypassesPreflightForTestAgent(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	mustRegisterAgent(t, store, domain.Agent{ID: "t1", Name: "t1", IsTestAgent: true, Status: domain.AgentOnline})

	qt, err := d.Create(ctx, CreateRequest{AgentID: "t1", ModelPath: "model.gguf", EngineKey: "vllm", Force: true, Suite: "throughput"})
	if err != nil {
		t.Fatalf("expected force to bypass preflight, got %v", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetQuickTest(ctx, qt.ID)
		if err != nil {
			t.Fatalf("get quick test: %v", err)
		}
		if got.Status == domain.QuickTestCompleted {
			if got.ResultID == "" {
				t.Fatal("expected a linked result on completion")
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("simulation did not complete in time")
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()
	if err := store.CreateQuickTest(ctx, domain.QuickTest{ID: "qt1", Status: domain.QuickTestQueued, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.Transition(ctx, "qt1", domain.QuickTestCompleted, ""); err == nil {
		t.Fatal("expected queued -> completed to be rejected")
	}
}

func TestCancelEnqueuesStopContainerForRealAgent(t *testing.T) {
	d, store, queuer := newTestDispatcher(t)
	ctx := context.Background()
	mustRegisterAgent(t, store, domain.Agent{ID: "a1", Name: "a1", Hardware: domain.Hardware{CPUArch: "amd64"}, Status: domain.AgentOnline})
	if err := store.CreateQuickTest(ctx, domain.QuickTest{ID: "qt1", AgentID: "a1", Status: domain.QuickTestDispatched, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.Cancel(ctx, "qt1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	found := false
	for _, c := range queuer.queued {
		if c.Kind == domain.CommandStopContainer {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a stop_container command to be queued on cancel")
	}
}
