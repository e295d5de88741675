package domain

import "time"

// QuickTestStatus is a state in the quick-test state machine (spec §4.4).
type QuickTestStatus string

const (
	QuickTestQueued     QuickTestStatus = "queued"
	QuickTestDispatched QuickTestStatus = "dispatched"
	QuickTestRunning    QuickTestStatus = "running"
	QuickTestCompleted  QuickTestStatus = "completed"
	QuickTestFailed     QuickTestStatus = "failed"
	QuickTestCancelled  QuickTestStatus = "cancelled"
)

// allowedQuickTestTransitions is the complete edge set from spec §4.4. Any
// transition not listed here is illegal and must be rejected with Conflict.
var allowedQuickTestTransitions = map[QuickTestStatus]map[QuickTestStatus]bool{
	QuickTestQueued: {
		QuickTestDispatched: true,
		QuickTestCancelled:  true,
	},
	QuickTestDispatched: {
		QuickTestRunning:   true,
		QuickTestFailed:    true,
		QuickTestCancelled: true,
	},
	QuickTestRunning: {
		QuickTestCompleted: true,
		QuickTestFailed:    true,
		QuickTestCancelled: true,
	},
	QuickTestCompleted: {},
	QuickTestFailed:    {},
	QuickTestCancelled: {},
}

// CanTransitionQuickTest reports whether from -> to is a legal edge.
func CanTransitionQuickTest(from, to QuickTestStatus) bool {
	edges, ok := allowedQuickTestTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// IsTerminalQuickTestStatus reports whether status has no further
// transitions (spec §3: "never re-opened").
func IsTerminalQuickTestStatus(s QuickTestStatus) bool {
	switch s {
	case QuickTestCompleted, QuickTestFailed, QuickTestCancelled:
		return true
	default:
		return false
	}
}

// IsActiveQuickTestStatus reports whether status counts against the
// single-in-flight-test-per-agent invariant (spec P3).
func IsActiveQuickTestStatus(s QuickTestStatus) bool {
	return s == QuickTestDispatched || s == QuickTestRunning
}

// QuickTest is the atomic unit of work; all campaigns decompose into quick
// tests.
type QuickTest struct {
	ID         string
	AgentID    string
	ModelPath  string
	EngineKey  string
	Suite      string
	Force      bool
	Status     QuickTestStatus
	CampaignID string // empty unless dispatched as a campaign cell

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ResultID string
	Error    string
}

// LogLine is one line appended to a quick test's or campaign's log stream.
type LogLine struct {
	SeqID     int64
	SourceID  string
	Line      string
	CreatedAt time.Time
}
