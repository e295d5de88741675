package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/kitt-bench/controller/internal/apperrors"
	"github.com/kitt-bench/controller/internal/catalog"
	core "github.com/kitt-bench/controller/internal/core/service"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/eventbus"
	"github.com/kitt-bench/controller/internal/metrics"
	"github.com/kitt-bench/controller/internal/quicktest"
	"github.com/kitt-bench/controller/internal/storage"
	"github.com/kitt-bench/controller/pkg/logger"
)

// pollInterval is how often the executor checks a dispatched cell's
// terminal state while re-publishing its log stream (spec §4.5: "polling
// in short intervals (<= 2s)").
const pollInterval = 2 * time.Second

// cellWatchdog is the wall-clock budget per cell before the executor force-
// fails it (spec §4.5: "a 30-minute wall-clock watchdog per cell").
const cellWatchdog = 30 * time.Minute

// CommandQueuer matches agentmgr.Manager's QueueCommand, used here only for
// the cleanup_storage command issued after a successful cell.
type CommandQueuer interface {
	QueueCommand(ctx context.Context, cmd domain.PendingCommand) error
}

// Executor drives one campaign to completion. It is attached to the
// system.Manager dynamically, one instance per launched campaign (spec
// §4.5; see internal/system.Manager.Attach).
type Executor struct {
	store      storage.Store
	bus        *eventbus.Bus
	engines    *catalog.EngineRegistry
	dispatcher *quicktest.Dispatcher
	commands   CommandQueuer
	log        *logger.Logger
	metrics    *metrics.Metrics
	tracer     core.Tracer

	campaignID string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor builds an Executor for campaignID. Call via Manager.Attach,
// not Register: campaigns are launched after the manager has started.
func NewExecutor(store storage.Store, bus *eventbus.Bus, engines *catalog.EngineRegistry, dispatcher *quicktest.Dispatcher, commands CommandQueuer, log *logger.Logger, campaignID string) *Executor {
	return &Executor{store: store, bus: bus, engines: engines, dispatcher: dispatcher, commands: commands, log: log, tracer: core.NoopTracer{}, campaignID: campaignID}
}

// SetMetrics attaches a metrics collector; nil (the default) disables
// per-cell recording.
func (e *Executor) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// SetTracer overrides the no-op span tracer, letting a caller wire a real
// tracing backend around each cell's dispatch-and-await span.
func (e *Executor) SetTracer(t core.Tracer) {
	if t != nil {
		e.tracer = t
	}
}

func (e *Executor) Name() string { return "campaign-executor:" + e.campaignID }

// Start launches the executor's run loop in the background and returns
// immediately, per system.Service's contract.
func (e *Executor) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(loopCtx)
	return nil
}

func (e *Executor) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Executor) log1(format string, args ...any) {
	if e.log != nil {
		e.log.WithField("campaign", e.campaignID).Infof(format, args...)
	}
}

func (e *Executor) run(ctx context.Context) {
	defer close(e.done)

	c, err := e.store.GetCampaign(ctx, e.campaignID)
	if err != nil {
		e.log1("load failed: %v", err)
		return
	}

	if err := e.transitionCampaign(ctx, domain.CampaignRunning, ""); err != nil {
		e.log1("cannot start: %v", err)
		return
	}

	alreadySucceeded, err := e.succeededCells(ctx)
	if err != nil {
		e.fail(ctx, fmt.Sprintf("load prior results: %v", err))
		return
	}

	cells, skips := Expand(c.Config, e.engines, ExpandOptions{
		Resume:           true,
		AlreadySucceeded: alreadySucceeded,
		AvailableDiskGB:  0, // disk telemetry is reported by agents, not known centrally; reserve_gb check applies only when non-zero
	})

	total := len(cells) + len(skips)
	succeeded, failed, skipped := 0, 0, len(skips)
	_ = e.store.UpdateCampaignCounters(ctx, e.campaignID, total, succeeded, failed, skipped)
	for _, s := range skips {
		e.publishLog(ctx, fmt.Sprintf("skipping: %s/%s (%s)", s.Model.Name, s.Engine.Name, s.Reason))
	}

	for _, cell := range cells {
		select {
		case <-ctx.Done():
			return
		default:
		}

		status, err := e.runCell(ctx, c, cell)
		if err != nil {
			e.log1("cell %s/%s error: %v", cell.Model.Name, cell.Engine.Name, err)
		}
		switch status {
		case domain.QuickTestCompleted:
			succeeded++
		case domain.QuickTestCancelled:
			_ = e.store.UpdateCampaignCounters(ctx, e.campaignID, total, succeeded, failed, skipped)
			e.transitionCampaign(ctx, domain.CampaignCancelled, "")
			return
		default: // failed, or a watchdog/error forced it there
			failed++
		}
		_ = e.store.UpdateCampaignCounters(ctx, e.campaignID, total, succeeded, failed, skipped)
	}

	if failed > 0 {
		e.transitionCampaign(ctx, domain.CampaignFailed, fmt.Sprintf("%d cell(s) failed", failed))
		return
	}
	e.transitionCampaign(ctx, domain.CampaignCompleted, "")
}

// runCell runs the per-cell protocol (spec §4.5 steps 1-6) and returns the
// quick test's terminal status. Dispatch itself is retried under
// core.AgentRetryPolicy: Create's only failure modes before the quick-test
// row exists are preflight rejections (permanent) or a transient agent/DB
// hiccup, and retrying the latter here avoids burning a whole cell on a
// blip the next heartbeat would have recovered from anyway.
func (e *Executor) runCell(ctx context.Context, c domain.Campaign, cell domain.Cell) (domain.QuickTestStatus, error) {
	spanCtx, endSpan := e.tracer.StartSpan(ctx, "campaign.cell")
	defer endSpan()

	engine, _ := e.engines.Get(cell.Engine.Name)
	modelPath := ArtifactPath(cell.Model, engine)

	e.publishLog(spanCtx, fmt.Sprintf("starting: %s/%s/%s", cell.Model.Name, cell.Engine.Name, cell.Engine.Suite))

	finish := core.StartObservation(spanCtx, core.ObservationHooks{
		OnComplete: func(_ context.Context, meta map[string]string, err error, duration time.Duration) {
			if e.log == nil {
				return
			}
			l := e.log.WithField("campaign", e.campaignID).WithField("cell", meta["cell"]).WithField("duration", duration)
			if err != nil {
				l.WithField("error", err).Warn("campaign: cell failed")
			} else {
				l.Info("campaign: cell finished")
			}
		},
	}, map[string]string{"cell": cellKey(modelPath, cell.Engine.Name)})

	var qt domain.QuickTest
	var permanent *permanentDispatchError
	err := core.Retry(spanCtx, core.AgentRetryPolicy, func() error {
		var createErr error
		qt, createErr = e.dispatcher.Create(spanCtx, quicktest.CreateRequest{
			AgentID: c.AgentID, ModelPath: modelPath, EngineKey: cell.Engine.Name,
			Suite: cell.Engine.Suite, CampaignID: e.campaignID,
		})
		if se, ok := apperrors.As(createErr); ok && se.Code != apperrors.CodeTransient {
			permanent = &permanentDispatchError{err: createErr}
			return nil
		}
		return createErr
	})
	if permanent != nil {
		err = permanent.err
	}
	if err != nil {
		finish(err)
		if se, ok := apperrors.As(err); ok {
			e.publishLog(spanCtx, fmt.Sprintf("failed to dispatch %s/%s: %s", cell.Model.Name, cell.Engine.Name, se.Message))
		}
		e.recordCellMetric(domain.QuickTestFailed)
		return domain.QuickTestFailed, err
	}

	status, err := e.awaitTerminal(spanCtx, qt.ID)
	finish(err)
	if err != nil {
		e.recordCellMetric(status)
		return status, err
	}

	if status == domain.QuickTestCompleted && c.Config.Disk.CleanupAfterRun {
		_ = e.commands.QueueCommand(spanCtx, domain.PendingCommand{AgentID: c.AgentID, Kind: domain.CommandCleanupStorage, TestID: qt.ID})
	}
	e.recordCellMetric(status)
	return status, nil
}

// permanentDispatchError records a dispatch that failed for a non-transient
// reason (preflight, validation, conflict). The retried func returns nil in
// that case, so core.Retry stops without re-attempting it, and runCell then
// reports the recorded error.
type permanentDispatchError struct{ err error }

func (p *permanentDispatchError) Error() string { return p.err.Error() }

func (e *Executor) recordCellMetric(status domain.QuickTestStatus) {
	if e.metrics != nil {
		e.metrics.RecordCampaignCell(string(status))
	}
}

// awaitTerminal polls qt until it reaches a terminal state, re-publishing
// its log stream onto the campaign channel, and enforces the per-cell
// watchdog (spec §4.5 steps 3-4). If the campaign has been cancelled in the
// meantime it cancels the quick test and returns QuickTestCancelled.
func (e *Executor) awaitTerminal(ctx context.Context, quickTestID string) (domain.QuickTestStatus, error) {
	deadline := time.Now().Add(cellWatchdog)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var lastSeq int64

	for {
		lines, err := e.store.TailQuickTestLogs(ctx, quickTestID, lastSeq)
		if err == nil {
			for _, l := range lines {
				e.publishLog(ctx, l.Line)
				lastSeq = l.SeqID
			}
		}

		qt, err := e.store.GetQuickTest(ctx, quickTestID)
		if err != nil {
			return domain.QuickTestFailed, err
		}
		if domain.IsTerminalQuickTestStatus(qt.Status) {
			return qt.Status, nil
		}

		if c, err := e.store.GetCampaign(ctx, e.campaignID); err == nil && c.Status == domain.CampaignCancelled {
			_ = e.dispatcher.Cancel(ctx, quickTestID)
			return domain.QuickTestCancelled, nil
		}

		if time.Now().After(deadline) {
			_ = e.dispatcher.Transition(ctx, quickTestID, domain.QuickTestFailed, "watchdog: exceeded 30m wall clock")
			_ = e.commands.QueueCommand(ctx, domain.PendingCommand{AgentID: qt.AgentID, Kind: domain.CommandStopContainer, TestID: quickTestID})
			return domain.QuickTestFailed, nil
		}

		select {
		case <-ctx.Done():
			_ = e.dispatcher.Cancel(ctx, quickTestID)
			return domain.QuickTestCancelled, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) succeededCells(ctx context.Context) (map[string]bool, error) {
	prior, err := e.store.ListQuickTestsByCampaign(ctx, e.campaignID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, qt := range prior {
		if qt.Status == domain.QuickTestCompleted {
			out[cellKey(qt.ModelPath, qt.EngineKey)] = true
		}
	}
	return out, nil
}

func (e *Executor) transitionCampaign(ctx context.Context, to domain.CampaignStatus, errMsg string) error {
	c, err := e.store.GetCampaign(ctx, e.campaignID)
	if err != nil {
		return err
	}
	if !domain.CanTransitionCampaign(c.Status, to) {
		return apperrors.Conflict("campaign: illegal transition %s -> %s for %s", c.Status, to, e.campaignID)
	}
	if err := e.store.UpdateCampaignStatus(ctx, e.campaignID, to, errMsg); err != nil {
		return err
	}
	e.publishStatus(ctx, to)
	return nil
}

func (e *Executor) fail(ctx context.Context, msg string) {
	_ = e.transitionCampaign(ctx, domain.CampaignFailed, msg)
}

func (e *Executor) publishLog(ctx context.Context, line string) {
	_ = e.store.AppendCampaignLog(ctx, e.campaignID, line)
	_, _ = e.bus.Publish(ctx, domain.Event{Type: domain.EventLog, SourceID: e.campaignID, Payload: []byte(`{"line":` + jsonQuote(line) + `}`)})
}

func (e *Executor) publishStatus(ctx context.Context, status domain.CampaignStatus) {
	_, _ = e.bus.Publish(ctx, domain.Event{
		Type: domain.EventCampaignStatus, SourceID: e.campaignID,
		Payload: []byte(fmt.Sprintf(`{"campaign_id":%q,"status":%q}`, e.campaignID, status)),
	})
}

func jsonQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	out = append(out, '"')
	return string(out)
}
