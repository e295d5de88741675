package agentmgr

import (
	"context"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/pkg/logger"
)

// Sweeper periodically marks agents offline once they have missed 3x their
// heartbeat interval (spec §4.3), skipping test agents which are always
// considered reachable.
type Sweeper struct {
	mgr      *Manager
	interval time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a Sweeper that checks agent liveness every checkEvery.
func NewSweeper(mgr *Manager, checkEvery time.Duration, log *logger.Logger) *Sweeper {
	if checkEvery <= 0 {
		checkEvery = 10 * time.Second
	}
	return &Sweeper{mgr: mgr, interval: checkEvery, log: log}
}

func (s *Sweeper) Name() string { return "agentmgr.sweeper" }

// Start launches the sweeper's background loop; it returns immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	agents, err := s.mgr.store.ListAgents(ctx)
	if err != nil {
		if s.log != nil {
			s.log.WithField("error", err).Warn("agentmgr: sweep list failed")
		}
		return
	}
	now := time.Now()
	for _, agent := range agents {
		if agent.IsTestAgent || agent.Status == domain.AgentOffline {
			continue
		}
		intervalS := s.mgr.defaultIntervalS
		if settings, err := s.mgr.store.GetAgentSettings(ctx, agent.ID); err == nil {
			if v, ok := settings[domain.SettingHeartbeatInterval]; ok {
				if n, err := parseIntervalSetting(v); err == nil {
					intervalS = n
				}
			}
		}
		if agent.Reachable(now, intervalS) {
			continue
		}
		if err := s.mgr.store.UpdateAgentStatus(ctx, agent.ID, domain.AgentOffline); err != nil && s.log != nil {
			s.log.WithField("error", err).WithField("agent", agent.ID).Warn("agentmgr: mark offline failed")
		}
	}
}
