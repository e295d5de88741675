package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates the event kinds carried on the bus and persisted to
// the events table.
type EventType string

const (
	EventLog              EventType = "log"
	EventQuickTestStatus  EventType = "quicktest_status"
	EventCampaignStatus   EventType = "campaign_status"
	EventAgentStatus      EventType = "agent_status"
)

// Event is an append-only record published to the event bus (spec §4.2).
type Event struct {
	SeqID     int64
	Type      EventType
	SourceID  string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Setting is a process-wide (key, value) row (spec §3).
type Setting struct {
	Key   string
	Value string
}
