// Package quicktest implements the state machine for a single benchmark
// run (spec §4.4): preflight checks, command dispatch to a real agent, and
// the in-process simulation path used by test agents.
package quicktest

import (
	"context"
	"fmt"
	"time"

	"github.com/kitt-bench/controller/internal/apperrors"
	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/eventbus"
	"github.com/kitt-bench/controller/internal/metrics"
	"github.com/kitt-bench/controller/internal/storage"
	"github.com/kitt-bench/controller/pkg/logger"
)

// Dispatcher owns quick-test creation and the preflight/dispatch decision.
// The actual state transitions it validates are enforced by
// domain.CanTransitionQuickTest; Dispatcher is the only writer of
// quick_tests.status outside of the HTTP handlers that relay agent-posted
// transitions.
type Dispatcher struct {
	store      storage.Store
	bus        *eventbus.Bus
	engines    *catalog.EngineRegistry
	benchmarks *catalog.BenchmarkRegistry
	commands   CommandQueuer
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// SetMetrics attaches a metrics collector; nil (the default) disables
// recording. Separate from New so callers that don't build metrics (most
// unit tests) aren't forced to thread a nil through every constructor.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// benchmarkSuite wraps catalog.Benchmark so this package does not leak the
// catalog type through its own exported surface.
type benchmarkSuite struct {
	catalog.Benchmark
}

// CommandQueuer is satisfied by *agentmgr.Manager; kept as a narrow
// interface here so quicktest does not import agentmgr (quicktest is a
// lower-level collaborator the campaign executor and HTTP handlers both
// depend on).
type CommandQueuer interface {
	QueueCommand(ctx context.Context, cmd domain.PendingCommand) error
}

// New builds a Dispatcher.
func New(store storage.Store, bus *eventbus.Bus, engines *catalog.EngineRegistry, benchmarks *catalog.BenchmarkRegistry, commands CommandQueuer, log *logger.Logger) *Dispatcher {
	return &Dispatcher{store: store, bus: bus, engines: engines, benchmarks: benchmarks, commands: commands, log: log}
}

// CreateRequest is the input to Create, mirroring POST /quicktest.
type CreateRequest struct {
	AgentID    string
	ModelPath  string
	EngineKey  string
	Suite      string
	Force      bool
	CampaignID string
}

// Create runs preflight (unless Force and the agent is a test agent), then
// inserts the quick-test row queued and either queues a run_test command
// (real agent) or spawns the simulation path (test agent).
func (d *Dispatcher) Create(ctx context.Context, req CreateRequest) (domain.QuickTest, error) {
	agent, err := d.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return domain.QuickTest{}, apperrors.Wrap(apperrors.CodeNotFound, "quicktest: create", err)
	}

	skipPreflight := req.Force && agent.IsTestAgent
	if !skipPreflight {
		if err := d.preflight(req.EngineKey, req.ModelPath, agent); err != nil {
			return domain.QuickTest{}, err
		}
	}

	qt := domain.QuickTest{
		ID:         newID(),
		AgentID:    req.AgentID,
		ModelPath:  req.ModelPath,
		EngineKey:  req.EngineKey,
		Suite:      req.Suite,
		Force:      req.Force,
		Status:     domain.QuickTestQueued,
		CampaignID: req.CampaignID,
		CreatedAt:  time.Now(),
	}
	if err := d.store.CreateQuickTest(ctx, qt); err != nil {
		return domain.QuickTest{}, apperrors.Fatal(err, "quicktest: create")
	}
	d.publishStatus(ctx, qt)

	if agent.IsTestAgent {
		go d.simulate(context.Background(), qt)
		return qt, nil
	}

	if err := d.commands.QueueCommand(ctx, domain.PendingCommand{
		AgentID: req.AgentID,
		Kind:    domain.CommandRunTest,
		TestID:  qt.ID,
		Payload: map[string]any{
			"model_path": req.ModelPath,
			"engine":     req.EngineKey,
			"suite":      req.Suite,
		},
	}); err != nil {
		return domain.QuickTest{}, err
	}
	return qt, nil
}

// preflight rejects model-format/engine and engine/arch mismatches (spec
// §4.4).
func (d *Dispatcher) preflight(engineKey, modelPath string, agent domain.Agent) error {
	engine, ok := d.engines.Get(engineKey)
	if !ok {
		return apperrors.Preflight("unknown_engine", "quicktest: unknown engine %q", engineKey)
	}
	if format, ok := catalog.InferFormat(modelPath); ok && !engine.SupportsFormat(format) {
		return apperrors.Preflight("unsupported_format", "quicktest: engine %q does not support format %q", engineKey, format)
	}
	arch := catalog.Arch(agent.Hardware.CPUArch)
	if !engine.SupportsArch(arch) {
		return apperrors.Preflight("unsupported_arch", "quicktest: engine %q does not support arch %q", engineKey, arch)
	}
	return nil
}

// Transition validates and applies a status change reported by an agent
// (via HTTP) or the executor's watchdog, rejecting illegal edges (spec P2).
func (d *Dispatcher) Transition(ctx context.Context, id string, to domain.QuickTestStatus, errMsg string) error {
	qt, err := d.store.GetQuickTest(ctx, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNotFound, "quicktest: transition", err)
	}
	if !domain.CanTransitionQuickTest(qt.Status, to) {
		return apperrors.Conflict("quicktest: illegal transition %s -> %s for %s", qt.Status, to, id)
	}
	if err := d.store.UpdateQuickTestStatus(ctx, id, to, errMsg); err != nil {
		return apperrors.Fatal(err, "quicktest: transition")
	}
	qt.Status = to
	d.publishStatus(ctx, qt)
	if d.metrics != nil && domain.IsTerminalQuickTestStatus(to) {
		d.metrics.RecordQuickTest(qt.EngineKey, string(to), time.Since(qt.CreatedAt))
	}
	return nil
}

// Cancel moves a quick test to cancelled and, for a real agent, enqueues a
// stop_container command (spec §4.4 "controller flips status and enqueues
// a stop_container command").
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	qt, err := d.store.GetQuickTest(ctx, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNotFound, "quicktest: cancel", err)
	}
	if domain.IsTerminalQuickTestStatus(qt.Status) {
		return apperrors.Conflict("quicktest: %s is already terminal (%s)", id, qt.Status)
	}
	if err := d.Transition(ctx, id, domain.QuickTestCancelled, ""); err != nil {
		return err
	}
	agent, err := d.store.GetAgent(ctx, qt.AgentID)
	if err == nil && !agent.IsTestAgent {
		_ = d.commands.QueueCommand(ctx, domain.PendingCommand{
			AgentID: qt.AgentID, Kind: domain.CommandStopContainer, TestID: id,
		})
	}
	return nil
}

func (d *Dispatcher) publishStatus(ctx context.Context, qt domain.QuickTest) {
	payload := fmt.Sprintf(`{"quick_test_id":%q,"status":%q}`, qt.ID, qt.Status)
	if _, err := d.bus.Publish(ctx, domain.Event{
		Type: domain.EventQuickTestStatus, SourceID: qt.ID, Payload: []byte(payload),
	}); err != nil && d.log != nil {
		d.log.WithField("error", err).Warn("quicktest: publish status failed")
	}
}
