package agentmgr

import (
	"context"
	"testing"
	"time"

	"github.com/kitt-bench/controller/internal/apperrors"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage/memory"
	"github.com/kitt-bench/controller/pkg/logger"
)

func newTestManager() *Manager {
	return New(memory.New(), logger.NewDefault("test"), 30)
}

func TestRegisterMintsTokenOnce(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	res, err := mgr.Register(ctx, RegisterRequest{ID: "a1", Name: "gpu-box-1", Host: "10.0.0.5", Port: 9100})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.RawToken == "" {
		t.Fatal("expected a minted token on first registration")
	}

	if _, err := mgr.Authenticate(ctx, "a1", res.RawToken); err != nil {
		t.Fatalf("authenticate with minted token: %v", err)
	}
	if _, err := mgr.Authenticate(ctx, "a1", "wrong-token"); err == nil {
		t.Fatal("expected authenticate to reject wrong token")
	}
}

func TestRegisterAssignsIDWhenOmitted(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	res, err := mgr.Register(ctx, RegisterRequest{Name: "gpu-box-2"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Agent.ID == "" {
		t.Fatal("expected the controller to assign an id when the request omits one")
	}
	if _, err := mgr.Authenticate(ctx, res.Agent.ID, res.RawToken); err != nil {
		t.Fatalf("authenticate with assigned id: %v", err)
	}
}

func TestRegisterRecoversByNamePreservingToken(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	first, err := mgr.Register(ctx, RegisterRequest{ID: "a1", Name: "gpu-box-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Simulate the agent losing its local ID file and re-registering with a
	// fresh (unknown) ID but the same name.
	second, err := mgr.Register(ctx, RegisterRequest{ID: "a1-new", Name: "gpu-box-1"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.RawToken != "" {
		t.Fatal("expected recovery path to preserve the existing token, not mint a new one")
	}
	if _, err := mgr.Authenticate(ctx, "gpu-box-1", first.RawToken); err != nil {
		t.Fatalf("expected original token to still authenticate: %v", err)
	}
}

func TestHeartbeatClampsIntervalWhileRunning(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()
	store := mgr.store

	if _, err := mgr.Register(ctx, RegisterRequest{ID: "a1", Name: "gpu-box-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.PutSetting(ctx, "a1", domain.SettingHeartbeatInterval, "5"); err != nil {
		t.Fatalf("put setting: %v", err)
	}
	if err := store.CreateQuickTest(ctx, domain.QuickTest{
		ID: "qt1", AgentID: "a1", ModelPath: "m", EngineKey: "e", Suite: "s",
		Status: domain.QuickTestRunning, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("create quick test: %v", err)
	}

	res, err := mgr.Heartbeat(ctx, "a1", HeartbeatPayload{Status: domain.AgentOnline})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if res.IntervalS < runningHeartbeatFloorS {
		t.Fatalf("expected interval clamped to >= %d while a test is running, got %d", runningHeartbeatFloorS, res.IntervalS)
	}
}

func TestQueueCommandRejectsOfflineRealAgent(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	if _, err := mgr.Register(ctx, RegisterRequest{ID: "a1", Name: "gpu-box-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.store.UpdateAgentStatus(ctx, "a1", domain.AgentOffline); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	err := mgr.QueueCommand(ctx, domain.PendingCommand{AgentID: "a1", Kind: domain.CommandRunTest})
	if err == nil {
		t.Fatal("expected queueing a command to an offline real agent to fail")
	}
	se, ok := apperrors.As(err)
	if !ok || se.Code != apperrors.CodeConflict {
		t.Fatalf("expected a conflict ServiceError, got %v", err)
	}
}

func TestQueueCommandAllowsOfflineTestAgent(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	if _, err := mgr.Register(ctx, RegisterRequest{ID: "t1", Name: "sim-agent", IsTest: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.store.UpdateAgentStatus(ctx, "t1", domain.AgentOffline); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	if err := mgr.QueueCommand(ctx, domain.PendingCommand{AgentID: "t1", Kind: domain.CommandRunTest}); err != nil {
		t.Fatalf("expected queueing a command to an offline test agent to succeed, got %v", err)
	}
}

func TestRotateTokenInvalidatesPrevious(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	first, err := mgr.Register(ctx, RegisterRequest{ID: "a1", Name: "gpu-box-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	newToken, err := mgr.RotateToken(ctx, "a1")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := mgr.Authenticate(ctx, "a1", first.RawToken); err == nil {
		t.Fatal("expected old token to be rejected after rotation")
	}
	if _, err := mgr.Authenticate(ctx, "a1", newToken); err != nil {
		t.Fatalf("expected new token to authenticate: %v", err)
	}
}

func TestPutSettingRejectsUnknownKey(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()
	if _, err := mgr.Register(ctx, RegisterRequest{ID: "a1", Name: "gpu-box-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.PutSetting(ctx, "a1", "not_a_real_setting", "x"); err == nil {
		t.Fatal("expected unknown setting key to be rejected")
	}
}
