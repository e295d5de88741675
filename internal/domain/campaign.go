package domain

import "time"

// CampaignStatus is a state in the campaign lifecycle (spec §3).
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignQueued    CampaignStatus = "queued"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

var allowedCampaignTransitions = map[CampaignStatus]map[CampaignStatus]bool{
	CampaignDraft: {
		CampaignQueued:    true,
		CampaignCancelled: true,
	},
	CampaignQueued: {
		CampaignRunning:   true,
		CampaignCancelled: true,
	},
	CampaignRunning: {
		CampaignCompleted: true,
		CampaignFailed:    true,
		CampaignCancelled: true,
	},
	CampaignCompleted: {},
	CampaignFailed:    {},
	CampaignCancelled: {},
}

// CanTransitionCampaign reports whether from -> to is a legal edge.
func CanTransitionCampaign(from, to CampaignStatus) bool {
	edges, ok := allowedCampaignTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// EditableCampaignStatus reports whether the campaign's config may still be
// edited (spec §3: "only draft campaigns allow config edits").
func EditableCampaignStatus(s CampaignStatus) bool {
	return s == CampaignDraft
}

// DiskPolicy controls model-cache disk usage during a campaign run.
type DiskPolicy struct {
	ReserveGB       float64 `yaml:"reserve_gb" json:"reserve_gb"`
	CleanupAfterRun bool    `yaml:"cleanup_after_run" json:"cleanup_after_run"`
}

// QuantFilter narrows the model matrix by filename glob.
type QuantFilter struct {
	SkipPatterns []string `yaml:"skip_patterns,omitempty" json:"skip_patterns,omitempty"`
	IncludeOnly  []string `yaml:"include_only,omitempty" json:"include_only,omitempty"`
}

// ResourceLimits bounds which models are eligible for a cell.
type ResourceLimits struct {
	MaxModelSizeGB float64 `yaml:"max_model_size_gb,omitempty" json:"max_model_size_gb,omitempty"`
}

// ModelSpec names one model and the artifact sources it is available under.
type ModelSpec struct {
	Name            string  `yaml:"name" json:"name"`
	SafetensorsRepo string  `yaml:"safetensors_repo,omitempty" json:"safetensors_repo,omitempty"`
	GGUFRepo        string  `yaml:"gguf_repo,omitempty" json:"gguf_repo,omitempty"`
	OllamaTag       string  `yaml:"ollama_tag,omitempty" json:"ollama_tag,omitempty"`
	SizeGB          float64 `yaml:"size_gb,omitempty" json:"size_gb,omitempty"`
}

// EngineSpec names one engine entry in the campaign matrix along with the
// benchmark suite to run against it.
type EngineSpec struct {
	Name  string `yaml:"name" json:"name"`
	Suite string `yaml:"suite" json:"suite"`
}

// NotificationSpec is opaque to the core; it is stored and forwarded only.
type NotificationSpec struct {
	Webhook string `yaml:"webhook,omitempty" json:"webhook,omitempty"`
}

// CampaignConfig is the parsed form of the campaign YAML (spec §6). Unknown
// keys are rejected at load (see LoadCampaignConfig).
type CampaignConfig struct {
	CampaignName   string            `yaml:"campaign_name" json:"campaign_name"`
	Description    string            `yaml:"description,omitempty" json:"description,omitempty"`
	Models         []ModelSpec       `yaml:"models" json:"models"`
	Engines        []EngineSpec      `yaml:"engines" json:"engines"`
	Disk           DiskPolicy        `yaml:"disk" json:"disk"`
	QuantFilter    QuantFilter       `yaml:"quant_filter,omitempty" json:"quant_filter,omitempty"`
	ResourceLimits ResourceLimits    `yaml:"resource_limits,omitempty" json:"resource_limits,omitempty"`
	Parallel       bool              `yaml:"parallel" json:"parallel"`
	Notifications  *NotificationSpec `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	Schedule       string            `yaml:"schedule,omitempty" json:"schedule,omitempty"` // cron expression
}

// Cell is one element of the expanded campaign matrix: a (model, engine,
// suite) triple.
type Cell struct {
	Model  ModelSpec
	Engine EngineSpec
	// EstimatedSizeGB drives the ascending-size default ordering (spec §4.5).
	EstimatedSizeGB float64
}

// Campaign drives a CampaignConfig to completion, one cell at a time, on a
// single assigned agent.
type Campaign struct {
	ID          string
	Name        string
	Description string
	ConfigYAML  string // stored verbatim; source of truth for export
	Config      CampaignConfig
	Status      CampaignStatus
	AgentID     string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	TotalRuns int
	Succeeded int
	Failed    int
	Skipped   int
	Error     string
}

// CountersConsistent checks invariant P4: succeeded+failed+skipped <= total,
// with equality required once the campaign reaches a terminal state.
func (c Campaign) CountersConsistent() bool {
	sum := c.Succeeded + c.Failed + c.Skipped
	if sum > c.TotalRuns {
		return false
	}
	if terminalCampaign(c.Status) {
		return sum == c.TotalRuns
	}
	return true
}

func terminalCampaign(s CampaignStatus) bool {
	switch s {
	case CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	default:
		return false
	}
}
