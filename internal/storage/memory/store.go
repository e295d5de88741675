// Package memory implements storage.Store in-process, for fast unit tests
// and as the controller's non-persistent "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
)

// Store is an in-memory implementation of storage.Store. All state is
// guarded by a single mutex; this mirrors the file driver's process-wide
// write lock (spec §5) closely enough to exercise the same callers.
type Store struct {
	mu sync.Mutex

	runs       map[string]domain.Run
	agents     map[string]domain.Agent
	agentSet   map[string]map[string]string
	commands   map[string][]domain.PendingCommand
	quickTests map[string]domain.QuickTest
	qtLogs     map[string][]domain.LogLine
	campaigns  map[string]domain.Campaign
	campLogs   map[string][]domain.LogLine
	events     []domain.Event
	settings   map[string]string

	seq int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		runs:       make(map[string]domain.Run),
		agents:     make(map[string]domain.Agent),
		agentSet:   make(map[string]map[string]string),
		commands:   make(map[string][]domain.PendingCommand),
		quickTests: make(map[string]domain.QuickTest),
		qtLogs:     make(map[string][]domain.LogLine),
		campaigns:  make(map[string]domain.Campaign),
		campLogs:   make(map[string][]domain.LogLine),
		settings:   make(map[string]string),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// --- Runs ---

func (s *Store) SaveRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return domain.Run{}, storage.Wrap("GetRun", fmt.Errorf("run %s not found", id))
	}
	return r, nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
	return nil
}

func (s *Store) QueryRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Run, 0, len(s.runs))
	for _, r := range s.runs {
		if filter.Model != "" && r.Model != filter.Model {
			continue
		}
		if filter.Engine != "" && r.Engine != filter.Engine {
			continue
		}
		if filter.Suite != "" && r.Suite != filter.Suite {
			continue
		}
		if filter.Since != nil && r.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && r.Timestamp.After(*filter.Until) {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].ID < all[j].ID
	})

	start := 0
	if filter.Cursor != "" {
		for i, r := range all {
			if cursorFor(r) == filter.Cursor {
				start = i + 1
				break
			}
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}
	page := all[start:end]

	next := ""
	if end < len(all) && len(page) > 0 {
		next = cursorFor(page[len(page)-1])
	}
	return page, next, nil
}

func cursorFor(r domain.Run) string {
	return fmt.Sprintf("%d:%s", r.Timestamp.UnixNano(), r.ID)
}

func (s *Store) Aggregate(ctx context.Context, groupBy, metric string, filter domain.RunFilter) ([]domain.AggregateStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string][]float64)
	for _, r := range s.runs {
		if filter.Model != "" && r.Model != filter.Model {
			continue
		}
		if filter.Engine != "" && r.Engine != filter.Engine {
			continue
		}
		if filter.Suite != "" && r.Suite != filter.Suite {
			continue
		}
		val, ok := r.MetricValue(metric)
		if !ok {
			continue // NULL-skip (spec §4.1)
		}
		key := groupKey(r, groupBy)
		groups[key] = append(groups[key], val)
	}

	out := make([]domain.AggregateStat, 0, len(groups))
	for key, values := range groups {
		out = append(out, aggregateStat(key, values))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupKey < out[j].GroupKey })
	return out, nil
}

func groupKey(r domain.Run, groupBy string) string {
	switch groupBy {
	case "engine":
		return r.Engine
	case "suite":
		return r.Suite
	default:
		return r.Model
	}
}

func aggregateStat(key string, values []float64) domain.AggregateStat {
	n := len(values)
	sum := 0.0
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(n)
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)
	stddev := math.Sqrt(variance)
	cv := 0.0
	if mean != 0 {
		cv = stddev / mean
	}
	return domain.AggregateStat{GroupKey: key, Mean: mean, Min: min, Max: max, StdDev: stddev, CV: cv, Count: n}
}

// --- Agents ---

func (s *Store) UpsertAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.agents[agent.ID]; ok {
		agent.TokenHash = existing.TokenHash
		agent.TokenPrefix = existing.TokenPrefix
		s.agents[agent.ID] = agent
		return agent, nil
	}
	for _, a := range s.agents {
		if strings.EqualFold(a.Name, agent.Name) {
			agent.ID = a.ID
			agent.TokenHash = a.TokenHash
			agent.TokenPrefix = a.TokenPrefix
			s.agents[a.ID] = agent
			return agent, nil
		}
	}
	s.agents[agent.ID] = agent
	if _, ok := s.agentSet[agent.ID]; !ok {
		s.agentSet[agent.ID] = domain.DefaultAgentSettings()
	}
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, storage.Wrap("GetAgent", fmt.Errorf("agent %s not found", id))
	}
	return a, nil
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if strings.EqualFold(a.Name, name) {
			return a, nil
		}
	}
	return domain.Agent{}, storage.Wrap("GetAgentByName", fmt.Errorf("agent %q not found", name))
}

func (s *Store) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateAgentHeartbeat(ctx context.Context, id string, status domain.AgentStatus, hw domain.Hardware, storageFreeGB, gpuUtil, gpuMem float64, uptimeS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return storage.Wrap("UpdateAgentHeartbeat", fmt.Errorf("agent %s not found", id))
	}
	a.Status = status
	a.Hardware = hw
	a.StorageFreeGB = storageFreeGB
	a.GPUUtilPercent = gpuUtil
	a.GPUMemGB = gpuMem
	a.UptimeSeconds = uptimeS
	a.LastHeartbeat = time.Now()
	s.agents[id] = a
	return nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return storage.Wrap("UpdateAgentStatus", fmt.Errorf("agent %s not found", id))
	}
	a.Status = status
	s.agents[id] = a
	return nil
}

func (s *Store) SetAgentToken(ctx context.Context, id, tokenPrefix, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return storage.Wrap("SetAgentToken", fmt.Errorf("agent %s not found", id))
	}
	a.TokenPrefix = tokenPrefix
	a.TokenHash = tokenHash
	s.agents[id] = a
	return nil
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	delete(s.agentSet, id)
	delete(s.commands, id)
	return nil
}

// --- AgentSettings ---

func (s *Store) GetAgentSettings(ctx context.Context, agentID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.agentSet[agentID]
	if !ok {
		return domain.DefaultAgentSettings(), nil
	}
	out := make(map[string]string, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out, nil
}

func (s *Store) PutAgentSetting(ctx context.Context, agentID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agentSet[agentID]; !ok {
		s.agentSet[agentID] = domain.DefaultAgentSettings()
	}
	s.agentSet[agentID][key] = value
	return nil
}

// --- AgentCommands ---

func (s *Store) QueueCommand(ctx context.Context, cmd domain.PendingCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[cmd.AgentID] = append(s.commands[cmd.AgentID], cmd)
	return nil
}

func (s *Store) DrainCommands(ctx context.Context, agentID string) ([]domain.PendingCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.commands[agentID]
	delete(s.commands, agentID)
	return out, nil
}

// --- QuickTests ---

func (s *Store) CreateQuickTest(ctx context.Context, qt domain.QuickTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quickTests[qt.ID] = qt
	return nil
}

func (s *Store) GetQuickTest(ctx context.Context, id string) (domain.QuickTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qt, ok := s.quickTests[id]
	if !ok {
		return domain.QuickTest{}, storage.Wrap("GetQuickTest", fmt.Errorf("quick test %s not found", id))
	}
	return qt, nil
}

func (s *Store) ListQuickTestsByCampaign(ctx context.Context, campaignID string) ([]domain.QuickTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QuickTest, 0)
	for _, qt := range s.quickTests {
		if qt.CampaignID == campaignID {
			out = append(out, qt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListActiveQuickTestsByAgent(ctx context.Context, agentID string) ([]domain.QuickTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QuickTest, 0)
	for _, qt := range s.quickTests {
		if qt.AgentID == agentID && domain.IsActiveQuickTestStatus(qt.Status) {
			out = append(out, qt)
		}
	}
	return out, nil
}

func (s *Store) UpdateQuickTestStatus(ctx context.Context, id string, status domain.QuickTestStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qt, ok := s.quickTests[id]
	if !ok {
		return storage.Wrap("UpdateQuickTestStatus", fmt.Errorf("quick test %s not found", id))
	}
	now := time.Now()
	switch status {
	case domain.QuickTestRunning:
		if qt.StartedAt == nil {
			qt.StartedAt = &now
		}
	case domain.QuickTestCompleted, domain.QuickTestFailed, domain.QuickTestCancelled:
		qt.CompletedAt = &now
	}
	qt.Status = status
	qt.Error = errMsg
	s.quickTests[id] = qt
	return nil
}

func (s *Store) LinkQuickTestResult(ctx context.Context, id, resultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qt, ok := s.quickTests[id]
	if !ok {
		return storage.Wrap("LinkQuickTestResult", fmt.Errorf("quick test %s not found", id))
	}
	qt.ResultID = resultID
	s.quickTests[id] = qt
	return nil
}

// --- QuickTestLogs ---

func (s *Store) AppendQuickTestLog(ctx context.Context, quickTestID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qtLogs[quickTestID] = append(s.qtLogs[quickTestID], domain.LogLine{
		SeqID: s.nextSeq(), SourceID: quickTestID, Line: line, CreatedAt: time.Now(),
	})
	return nil
}

func (s *Store) TailQuickTestLogs(ctx context.Context, quickTestID string, afterSeq int64) ([]domain.LogLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tailLines(s.qtLogs[quickTestID], afterSeq), nil
}

func tailLines(lines []domain.LogLine, afterSeq int64) []domain.LogLine {
	out := make([]domain.LogLine, 0)
	for _, l := range lines {
		if l.SeqID > afterSeq {
			out = append(out, l)
		}
	}
	return out
}

// --- Campaigns ---

func (s *Store) CreateCampaign(ctx context.Context, c domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.Campaign{}, storage.Wrap("GetCampaign", fmt.Errorf("campaign %s not found", id))
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return storage.Wrap("UpdateCampaignStatus", fmt.Errorf("campaign %s not found", id))
	}
	now := time.Now()
	if status == domain.CampaignRunning && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if status == domain.CampaignCompleted || status == domain.CampaignFailed || status == domain.CampaignCancelled {
		c.CompletedAt = &now
	}
	c.Status = status
	c.Error = errMsg
	s.campaigns[id] = c
	return nil
}

func (s *Store) UpdateCampaignCounters(ctx context.Context, id string, total, succeeded, failed, skipped int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return storage.Wrap("UpdateCampaignCounters", fmt.Errorf("campaign %s not found", id))
	}
	c.TotalRuns, c.Succeeded, c.Failed, c.Skipped = total, succeeded, failed, skipped
	s.campaigns[id] = c
	return nil
}

func (s *Store) UpdateCampaignConfig(ctx context.Context, id, configYAML string, cfg domain.CampaignConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return storage.Wrap("UpdateCampaignConfig", fmt.Errorf("campaign %s not found", id))
	}
	if !domain.EditableCampaignStatus(c.Status) {
		return storage.Wrap("UpdateCampaignConfig", fmt.Errorf("campaign %s is not editable in status %s", id, c.Status))
	}
	c.ConfigYAML = configYAML
	c.Config = cfg
	s.campaigns[id] = c
	return nil
}

// --- CampaignLogs ---

func (s *Store) AppendCampaignLog(ctx context.Context, campaignID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campLogs[campaignID] = append(s.campLogs[campaignID], domain.LogLine{
		SeqID: s.nextSeq(), SourceID: campaignID, Line: line, CreatedAt: time.Now(),
	})
	return nil
}

func (s *Store) TailCampaignLogs(ctx context.Context, campaignID string, afterSeq int64) ([]domain.LogLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tailLines(s.campLogs[campaignID], afterSeq), nil
}

// --- Events ---

func (s *Store) AppendEvent(ctx context.Context, event domain.Event) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.SeqID = s.nextSeq()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	s.events = append(s.events, event)
	return event, nil
}

func (s *Store) TailEvents(ctx context.Context, sourceID string, afterSeq int64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0)
	for _, e := range s.events {
		if e.SeqID <= afterSeq {
			continue
		}
		if sourceID != "" && e.SourceID != sourceID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// --- Settings ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// --- Misc ---

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return 1, nil
}

func (s *Store) Close() error { return nil }

// Reset clears all state; used between test cases that share a Store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s = *New()
}
