// Package storage defines the narrow, driver-pluggable persistence
// interfaces used by every other component (spec §4.1). Two drivers
// implement Store: sqlstore.SQLite (embedded file database) and
// sqlstore.Postgres (server database); both share the same SQL through
// sqlx's placeholder rebinding.
package storage

import (
	"context"

	"github.com/kitt-bench/controller/internal/domain"
)

// Error wraps any driver error surfaced to callers (spec §4.1: "any driver
// error surfaces as a typed StorageError with an inner cause").
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a *Error, or returns nil if err is nil, so call sites can
// write `return storage.Wrap("op", err)` unconditionally.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Runs persists benchmark results.
type Runs interface {
	SaveRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	DeleteRun(ctx context.Context, id string) error
	QueryRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, string, error) // returns next cursor
	Aggregate(ctx context.Context, groupBy, metric string, filter domain.RunFilter) ([]domain.AggregateStat, error)
}

// Agents persists the agent table.
type Agents interface {
	UpsertAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error)
	GetAgent(ctx context.Context, id string) (domain.Agent, error)
	GetAgentByName(ctx context.Context, name string) (domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	UpdateAgentHeartbeat(ctx context.Context, id string, status domain.AgentStatus, hw domain.Hardware, storageFreeGB, gpuUtil, gpuMem float64, uptimeS int64) error
	UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error
	SetAgentToken(ctx context.Context, id, tokenPrefix, tokenHash string) error
	DeleteAgent(ctx context.Context, id string) error
}

// AgentSettings persists per-agent settings rows.
type AgentSettings interface {
	GetAgentSettings(ctx context.Context, agentID string) (map[string]string, error)
	PutAgentSetting(ctx context.Context, agentID, key, value string) error
}

// AgentCommands persists the per-agent FIFO command queue.
type AgentCommands interface {
	QueueCommand(ctx context.Context, cmd domain.PendingCommand) error
	DrainCommands(ctx context.Context, agentID string) ([]domain.PendingCommand, error)
}

// QuickTests persists quick-test rows.
type QuickTests interface {
	CreateQuickTest(ctx context.Context, qt domain.QuickTest) error
	GetQuickTest(ctx context.Context, id string) (domain.QuickTest, error)
	ListQuickTestsByCampaign(ctx context.Context, campaignID string) ([]domain.QuickTest, error)
	ListActiveQuickTestsByAgent(ctx context.Context, agentID string) ([]domain.QuickTest, error)
	UpdateQuickTestStatus(ctx context.Context, id string, status domain.QuickTestStatus, errMsg string) error
	LinkQuickTestResult(ctx context.Context, id, resultID string) error
}

// QuickTestLogs persists quick-test log lines (spec §4.2 DB-backed persistence).
type QuickTestLogs interface {
	AppendQuickTestLog(ctx context.Context, quickTestID, line string) error
	TailQuickTestLogs(ctx context.Context, quickTestID string, afterSeq int64) ([]domain.LogLine, error)
}

// Campaigns persists campaign rows.
type Campaigns interface {
	CreateCampaign(ctx context.Context, c domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (domain.Campaign, error)
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, errMsg string) error
	UpdateCampaignCounters(ctx context.Context, id string, total, succeeded, failed, skipped int) error
	UpdateCampaignConfig(ctx context.Context, id, configYAML string, cfg domain.CampaignConfig) error
}

// CampaignLogs persists campaign log lines.
type CampaignLogs interface {
	AppendCampaignLog(ctx context.Context, campaignID, line string) error
	TailCampaignLogs(ctx context.Context, campaignID string, afterSeq int64) ([]domain.LogLine, error)
}

// Events persists the append-only event log (spec §3, §4.2).
type Events interface {
	AppendEvent(ctx context.Context, event domain.Event) (domain.Event, error)
	TailEvents(ctx context.Context, sourceID string, afterSeq int64) ([]domain.Event, error)
}

// Settings persists process-wide key/value settings.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store is the full aggregate persistence interface. Both drivers
// (sqlstore.SQLite, sqlstore.Postgres) implement it in full; the in-memory
// implementation (storage/memory) is used for fast unit tests.
type Store interface {
	Runs
	Agents
	AgentSettings
	AgentCommands
	QuickTests
	QuickTestLogs
	Campaigns
	CampaignLogs
	Events
	Settings

	// SchemaVersion reports the currently applied migration version (P5).
	SchemaVersion(ctx context.Context) (int, error)
	Close() error
}
