// Package domain holds the entities and invariants of the benchmark
// orchestrator's data model (spec §3): agents, quick tests, campaigns, runs
// and events. Types here carry no storage or transport concerns.
package domain

import "time"

// AgentStatus is the reachability state of an agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Hardware is a hardware snapshot, either attached to an Agent (current
// state) or to a Run (immutable, as observed at run time).
type Hardware struct {
	CPUArch           string  `json:"cpu_arch"` // "amd64" | "arm64"
	GPU               string  `json:"gpu,omitempty"`
	RAMGB             float64 `json:"ram_gb"`
	ComputeCapability string  `json:"compute_capability,omitempty"`
	EnvironmentType   string  `json:"environment_type,omitempty"`
	// VRAMGB is nil on unified-memory architectures, where VRAM is shared
	// with system RAM and reporting a separate figure would be misleading.
	VRAMGB *float64 `json:"vram_gb,omitempty"`
}

// Agent is a remote daemon attached to GPU hardware (or a virtual test
// agent) that pulls commands from the controller via heartbeats.
type Agent struct {
	ID       string
	Name     string
	Host     string
	Port     int
	Hardware Hardware

	Status          AgentStatus
	LastHeartbeat   time.Time
	RegisteredAt    time.Time
	IsTestAgent     bool
	CurrentTestID   string
	KittVersion     string
	StorageFreeGB   float64
	GPUUtilPercent  float64
	GPUMemGB        float64
	UptimeSeconds   int64

	// TokenPrefix is the first 8 hex chars of the raw token, kept for display.
	// TokenHash is sha256(rawToken); the raw token itself is never stored.
	TokenPrefix string
	TokenHash   string
}

// Reachable reports whether the agent should be treated as alive: test
// agents are always reachable (spec §3 invariant), real agents only within
// 3x their heartbeat interval.
func (a Agent) Reachable(now time.Time, intervalS int) bool {
	if a.IsTestAgent {
		return true
	}
	if intervalS <= 0 {
		intervalS = 30
	}
	window := time.Duration(3*intervalS) * time.Second
	return !a.LastHeartbeat.IsZero() && now.Sub(a.LastHeartbeat) <= window
}

// Known agent settings keys (spec §3).
const (
	SettingModelStorageDir  = "model_storage_dir"
	SettingModelShareSource = "model_share_source"
	SettingModelShareMount  = "model_share_mount"
	SettingAutoCleanup      = "auto_cleanup"
	SettingHeartbeatInterval = "heartbeat_interval_s"
	SettingKittImage        = "kitt_image"
)

// DefaultAgentSettings returns the documented defaults for a freshly
// registered agent.
func DefaultAgentSettings() map[string]string {
	return map[string]string{
		SettingAutoCleanup:       "true",
		SettingHeartbeatInterval: "30",
	}
}

// ValidateAgentSetting validates a (key, value) pair against the known-key
// schema; unknown keys are rejected (spec §3, §9 "explicit schema").
func ValidateAgentSetting(key, value string) error {
	switch key {
	case SettingModelStorageDir, SettingModelShareSource, SettingModelShareMount, SettingKittImage:
		if value == "" {
			return errEmptySettingValue(key)
		}
		return nil
	case SettingAutoCleanup:
		if value != "true" && value != "false" {
			return errInvalidSettingValue(key, value)
		}
		return nil
	case SettingHeartbeatInterval:
		return validateHeartbeatInterval(value)
	default:
		return errUnknownSettingKey(key)
	}
}

// CommandKind enumerates pending-command kinds (spec §3).
type CommandKind string

const (
	CommandRunTest        CommandKind = "run_test"
	CommandCleanupStorage CommandKind = "cleanup_storage"
	CommandStopContainer  CommandKind = "stop_container"
)

// PendingCommand is a per-agent FIFO dispatch intent; it lives only until
// the next heartbeat returns it.
type PendingCommand struct {
	ID        string
	AgentID   string
	Kind      CommandKind
	TestID    string // empty unless Kind == CommandRunTest or CommandStopContainer
	Payload   map[string]any
	CreatedAt time.Time
}
