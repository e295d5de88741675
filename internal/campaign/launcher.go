package campaign

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/kitt-bench/controller/internal/apperrors"
	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/eventbus"
	"github.com/kitt-bench/controller/internal/metrics"
	"github.com/kitt-bench/controller/internal/quicktest"
	"github.com/kitt-bench/controller/internal/storage"
	"github.com/kitt-bench/controller/internal/system"
	"github.com/kitt-bench/controller/pkg/logger"
)

// Attacher is the subset of system.Manager's surface Launcher needs;
// narrowed so tests can substitute a fake.
type Attacher interface {
	Attach(ctx context.Context, svc system.Service) error
}

// Launcher creates campaigns and attaches an Executor to the system
// manager for each one launched, per spec §4.5. It also owns the
// robfig/cron scheduler for CampaignConfig.Schedule entries.
type Launcher struct {
	store    storage.Store
	bus      *eventbus.Bus
	engines  *catalog.EngineRegistry
	disp     *quicktest.Dispatcher
	commands CommandQueuer
	manager  Attacher
	log      *logger.Logger
	metrics  *metrics.Metrics

	cron *cron.Cron
}

// NewLauncher builds a Launcher. Call Start to begin the cron scheduler;
// Stop to shut it down cleanly.
func NewLauncher(store storage.Store, bus *eventbus.Bus, engines *catalog.EngineRegistry, disp *quicktest.Dispatcher, commands CommandQueuer, manager Attacher, log *logger.Logger) *Launcher {
	return &Launcher{store: store, bus: bus, engines: engines, disp: disp, commands: commands, manager: manager, log: log, cron: cron.New()}
}

// SetMetrics attaches a metrics collector; every Executor launched
// afterward gets it wired in automatically.
func (l *Launcher) SetMetrics(m *metrics.Metrics) { l.metrics = m }

func (l *Launcher) Name() string { return "campaign.launcher" }

// Start registers cron entries for every existing campaign with a non-empty
// Schedule and starts the scheduler. New campaigns created after Start must
// call ScheduleIfNeeded explicitly (the HTTP layer does this on create).
func (l *Launcher) Start(ctx context.Context) error {
	campaigns, err := l.store.ListCampaigns(ctx)
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		l.scheduleLocked(c)
	}
	l.cron.Start()
	return nil
}

func (l *Launcher) Stop(ctx context.Context) error {
	stopCtx := l.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ScheduleIfNeeded registers a cron entry for c.Config.Schedule, if set.
func (l *Launcher) ScheduleIfNeeded(c domain.Campaign) {
	l.scheduleLocked(c)
}

func (l *Launcher) scheduleLocked(c domain.Campaign) {
	if c.Config.Schedule == "" {
		return
	}
	campaignID := c.ID
	_, _ = l.cron.AddFunc(c.Config.Schedule, func() {
		if _, err := l.Launch(context.Background(), campaignID); err != nil && l.log != nil {
			l.log.WithField("error", err).WithField("campaign", campaignID).Warn("campaign: scheduled launch failed")
		}
	})
}

// Launch transitions a draft/queued campaign to running and attaches a
// fresh Executor to the system manager for it.
func (l *Launcher) Launch(ctx context.Context, campaignID string) (*Executor, error) {
	c, err := l.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "campaign: launch", err)
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignQueued {
		return nil, apperrors.Conflict("campaign: %s cannot be launched from status %s", campaignID, c.Status)
	}
	if c.AgentID == "" {
		return nil, apperrors.Validation("campaign: %s has no assigned agent", campaignID)
	}
	if c.Status == domain.CampaignDraft {
		if err := l.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignQueued, ""); err != nil {
			return nil, apperrors.Fatal(err, "campaign: queue")
		}
	}

	exec := NewExecutor(l.store, l.bus, l.engines, l.disp, l.commands, l.log, campaignID)
	if l.metrics != nil {
		exec.SetMetrics(l.metrics)
	}
	if err := l.manager.Attach(ctx, exec); err != nil {
		return nil, apperrors.Fatal(err, "campaign: attach executor")
	}
	return exec, nil
}

// Cancel moves a campaign to cancelled, calling stop first when it is
// non-nil. The attached Executor does not share a context with this call:
// it sees the cancelled status on its next poll of the in-flight cell,
// cancels that quick test and ends its run loop.
func (l *Launcher) Cancel(ctx context.Context, campaignID string, stop func(ctx context.Context) error) error {
	c, err := l.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNotFound, "campaign: cancel", err)
	}
	if !domain.CanTransitionCampaign(c.Status, domain.CampaignCancelled) {
		return apperrors.Conflict("campaign: %s cannot be cancelled from status %s", campaignID, c.Status)
	}
	if stop != nil {
		if err := stop(ctx); err != nil {
			return err
		}
	}
	return l.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignCancelled, "cancelled by operator")
}
