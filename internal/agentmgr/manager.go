// Package agentmgr owns the agent table and the per-agent command queue
// (spec §4.3): registration/recovery, token auth, heartbeat ingestion, and
// the liveness sweeper that marks unreachable agents offline.
package agentmgr

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kitt-bench/controller/internal/apperrors"
	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
	"github.com/kitt-bench/controller/pkg/logger"
)

// runningHeartbeatFloorS is the minimum heartbeat interval handed back to an
// agent that currently has a running quick test, reducing chatter while a
// benchmark is in flight (spec §4.3).
const runningHeartbeatFloorS = 60

// Manager implements the agent registry and command queue.
type Manager struct {
	store storage.Store
	log   *logger.Logger

	defaultIntervalS int
}

// New builds a Manager. defaultIntervalS is the configured heartbeat
// interval handed out to agents with no running test.
func New(store storage.Store, log *logger.Logger, defaultIntervalS int) *Manager {
	if defaultIntervalS <= 0 {
		defaultIntervalS = 30
	}
	return &Manager{store: store, log: log, defaultIntervalS: defaultIntervalS}
}

// RegisterRequest is the payload of an agent's self-registration call.
type RegisterRequest struct {
	ID       string
	Name     string
	Host     string
	Port     int
	Hardware domain.Hardware
	IsTest   bool
	Version  string
}

// RegisterResult carries the stored agent plus the raw bearer token, which
// is returned exactly once (spec §4.3: "raw token returned once").
type RegisterResult struct {
	Agent    domain.Agent
	RawToken string // empty when an existing agent's token was preserved
}

// Register looks the agent up by ID then by name; on a match it updates
// hardware/network/status and preserves the existing token hash (the
// "database was reset" recovery path). On no match it inserts a new row and
// mints a fresh token.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	existing, err := m.lookupExisting(ctx, req.ID, req.Name)
	recovering := err == nil

	id := req.ID
	if id == "" && !recovering {
		id = newAgentID() // spec §6: "agent_id?" - the controller assigns one when absent
	}
	agent := domain.Agent{
		ID: id, Name: req.Name, Host: req.Host, Port: req.Port, Hardware: req.Hardware,
		IsTestAgent: req.IsTest, KittVersion: req.Version, Status: domain.AgentOnline,
		LastHeartbeat: time.Now(), RegisteredAt: time.Now(),
	}
	if recovering {
		agent.ID = existing.ID
	}

	stored, err := m.store.UpsertAgent(ctx, agent)
	if err != nil {
		return RegisterResult{}, apperrors.Fatal(err, "agentmgr: register")
	}

	if recovering {
		return RegisterResult{Agent: stored}, nil
	}

	rawToken, prefix, hash, err := mintToken()
	if err != nil {
		return RegisterResult{}, apperrors.Fatal(err, "agentmgr: mint token")
	}
	if err := m.store.SetAgentToken(ctx, stored.ID, prefix, hash); err != nil {
		return RegisterResult{}, apperrors.Fatal(err, "agentmgr: persist token")
	}
	stored.TokenPrefix, stored.TokenHash = prefix, hash
	return RegisterResult{Agent: stored, RawToken: rawToken}, nil
}

func (m *Manager) lookupExisting(ctx context.Context, id, name string) (domain.Agent, error) {
	if id != "" {
		if a, err := m.store.GetAgent(ctx, id); err == nil {
			return a, nil
		}
	}
	return m.store.GetAgentByName(ctx, name)
}

func mintToken() (raw, prefix, hash string, err error) {
	buf := make([]byte, 32) // 256 bits, spec §4.3 "fresh 256-bit token"
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	raw = hex.EncodeToString(buf)
	prefix = raw[:8]
	sum := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(sum[:])
	return raw, prefix, hash, nil
}

// Authenticate locates the agent by ID (falling back to name) and verifies
// rawToken against the stored hash in constant time, exactly as the
// teacher's requireOracleRunner helper does for its own bearer comparison.
func (m *Manager) Authenticate(ctx context.Context, agentKey, rawToken string) (domain.Agent, error) {
	agent, err := m.lookupExisting(ctx, agentKey, agentKey)
	if err != nil {
		return domain.Agent{}, apperrors.Auth("agentmgr: unknown agent %q", agentKey)
	}
	sum := sha256.Sum256([]byte(rawToken))
	want := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(want), []byte(agent.TokenHash)) != 1 {
		return domain.Agent{}, apperrors.Auth("agentmgr: token mismatch for agent %q", agentKey)
	}
	return agent, nil
}

// HeartbeatPayload is what an agent reports on every heartbeat.
type HeartbeatPayload struct {
	Status        domain.AgentStatus
	Hardware      domain.Hardware
	StorageFreeGB float64
	GPUUtilPercent float64
	GPUMemGB      float64
	UptimeSeconds int64
}

// HeartbeatResult is returned to the agent: its next poll interval, any
// queued commands, and its current settings snapshot.
type HeartbeatResult struct {
	IntervalS int
	Commands  []domain.PendingCommand
	Settings  map[string]string
}

// Heartbeat updates the agent row and drains its command queue.
func (m *Manager) Heartbeat(ctx context.Context, agentID string, payload HeartbeatPayload) (HeartbeatResult, error) {
	if err := m.store.UpdateAgentHeartbeat(ctx, agentID, payload.Status, payload.Hardware,
		payload.StorageFreeGB, payload.GPUUtilPercent, payload.GPUMemGB, payload.UptimeSeconds); err != nil {
		return HeartbeatResult{}, apperrors.Wrap(apperrors.CodeNotFound, "agentmgr: heartbeat", err)
	}

	commands, err := m.store.DrainCommands(ctx, agentID)
	if err != nil {
		return HeartbeatResult{}, apperrors.Fatal(err, "agentmgr: drain commands")
	}
	settings, err := m.store.GetAgentSettings(ctx, agentID)
	if err != nil {
		return HeartbeatResult{}, apperrors.Fatal(err, "agentmgr: load settings")
	}

	interval := m.defaultIntervalS
	if v, ok := settings[domain.SettingHeartbeatInterval]; ok {
		if n, err := parseIntervalSetting(v); err == nil {
			interval = n
		}
	}
	active, err := m.store.ListActiveQuickTestsByAgent(ctx, agentID)
	if err != nil {
		return HeartbeatResult{}, apperrors.Fatal(err, "agentmgr: list active tests")
	}
	for _, qt := range active {
		if qt.Status == domain.QuickTestRunning && interval < runningHeartbeatFloorS {
			interval = runningHeartbeatFloorS
			break
		}
	}

	return HeartbeatResult{IntervalS: interval, Commands: commands, Settings: settings}, nil
}

func parseIntervalSetting(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	return n, err
}

// QueueCommand enqueues cmd for agentID, rejecting offline non-test agents
// (spec §4.3: "rejects if agent is offline (except for test agents)").
func (m *Manager) QueueCommand(ctx context.Context, cmd domain.PendingCommand) error {
	agent, err := m.store.GetAgent(ctx, cmd.AgentID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNotFound, "agentmgr: queue command", err)
	}
	if agent.Status == domain.AgentOffline && !agent.IsTestAgent {
		return apperrors.Conflict("agentmgr: queue command: agent %s is offline", cmd.AgentID)
	}
	if cmd.ID == "" {
		cmd.ID = newCommandID()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}
	if err := m.store.QueueCommand(ctx, cmd); err != nil {
		return apperrors.Fatal(err, "agentmgr: queue command")
	}
	return nil
}

func newCommandID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func newAgentID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// RotateToken mints and stores a fresh token, returning the raw value once.
func (m *Manager) RotateToken(ctx context.Context, agentID string) (string, error) {
	raw, prefix, hash, err := mintToken()
	if err != nil {
		return "", apperrors.Fatal(err, "agentmgr: rotate token")
	}
	if err := m.store.SetAgentToken(ctx, agentID, prefix, hash); err != nil {
		return "", apperrors.Wrap(apperrors.CodeNotFound, "agentmgr: rotate token", err)
	}
	return raw, nil
}

// PutSetting validates and persists one (key, value) agent setting.
func (m *Manager) PutSetting(ctx context.Context, agentID, key, value string) error {
	if err := domain.ValidateAgentSetting(key, value); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "agentmgr: put setting", err)
	}
	if err := m.store.PutAgentSetting(ctx, agentID, key, value); err != nil {
		return apperrors.Fatal(err, "agentmgr: put setting")
	}
	return nil
}
