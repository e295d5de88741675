package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
)

const campaignColumns = `id, name, description, config_yaml, status, agent_id, created_at,
	started_at, completed_at, total_runs, succeeded, failed, skipped, error`

func scanCampaign(row interface{ Scan(...any) error }) (domain.Campaign, error) {
	var (
		id, name, configYAML, status                string
		description, agentID, errMsg                sql.NullString
		createdAt                                    time.Time
		startedAt, completedAt                       sql.NullTime
		total, succeeded, failed, skipped            int
	)
	if err := row.Scan(&id, &name, &description, &configYAML, &status, &agentID, &createdAt,
		&startedAt, &completedAt, &total, &succeeded, &failed, &skipped, &errMsg); err != nil {
		return domain.Campaign{}, err
	}
	c := domain.Campaign{
		ID: id, Name: name, Description: description.String, ConfigYAML: configYAML,
		Status: domain.CampaignStatus(status), AgentID: agentID.String, CreatedAt: createdAt,
		TotalRuns: total, Succeeded: succeeded, Failed: failed, Skipped: skipped, Error: errMsg.String,
	}
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	_ = yaml.Unmarshal([]byte(configYAML), &c.Config)
	return c, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c domain.Campaign) error {
	unlock := s.lockWrite()
	defer unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		c.ID, c.Name, nullString(c.Description), c.ConfigYAML, string(c.Status), nullString(c.AgentID),
		c.CreatedAt, c.StartedAt, c.CompletedAt, c.TotalRuns, c.Succeeded, c.Failed, c.Skipped, nullString(c.Error))
	return storage.Wrap("CreateCampaign", err)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	row := s.db.QueryRowxContext(ctx, s.rebind(`SELECT `+campaignColumns+` FROM campaigns WHERE id=?`), id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return domain.Campaign{}, storage.Wrap("GetCampaign", fmt.Errorf("campaign %s not found", id))
	}
	if err != nil {
		return domain.Campaign{}, storage.Wrap("GetCampaign", err)
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at`)
	if err != nil {
		return nil, storage.Wrap("ListCampaigns", err)
	}
	defer rows.Close()
	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, storage.Wrap("ListCampaigns", err)
		}
		out = append(out, c)
	}
	return out, storage.Wrap("ListCampaigns", rows.Err())
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, errMsg string) error {
	unlock := s.lockWrite()
	defer unlock()
	now := time.Now()
	var res sql.Result
	var err error
	switch status {
	case domain.CampaignRunning:
		res, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE campaigns SET status=?, error=?, started_at=COALESCE(started_at, ?) WHERE id=?`),
			string(status), nullString(errMsg), now, id)
	case domain.CampaignCompleted, domain.CampaignFailed, domain.CampaignCancelled:
		res, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE campaigns SET status=?, error=?, completed_at=? WHERE id=?`),
			string(status), nullString(errMsg), now, id)
	default:
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE campaigns SET status=?, error=? WHERE id=?`), string(status), nullString(errMsg), id)
	}
	if err != nil {
		return storage.Wrap("UpdateCampaignStatus", err)
	}
	return checkRowsAffected("UpdateCampaignStatus", res, fmt.Sprintf("campaign %s not found", id))
}

func (s *Store) UpdateCampaignCounters(ctx context.Context, id string, total, succeeded, failed, skipped int) error {
	unlock := s.lockWrite()
	defer unlock()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE campaigns SET total_runs=?, succeeded=?, failed=?, skipped=? WHERE id=?`),
		total, succeeded, failed, skipped, id)
	if err != nil {
		return storage.Wrap("UpdateCampaignCounters", err)
	}
	return checkRowsAffected("UpdateCampaignCounters", res, fmt.Sprintf("campaign %s not found", id))
}

func (s *Store) UpdateCampaignConfig(ctx context.Context, id, configYAML string, cfg domain.CampaignConfig) error {
	unlock := s.lockWrite()
	defer unlock()

	var status string
	row := s.db.QueryRowxContext(ctx, s.rebind(`SELECT status FROM campaigns WHERE id=?`), id)
	if err := row.Scan(&status); err == sql.ErrNoRows {
		return storage.Wrap("UpdateCampaignConfig", fmt.Errorf("campaign %s not found", id))
	} else if err != nil {
		return storage.Wrap("UpdateCampaignConfig", err)
	}
	if !domain.EditableCampaignStatus(domain.CampaignStatus(status)) {
		return storage.Wrap("UpdateCampaignConfig", fmt.Errorf("campaign %s is not editable in status %s", id, status))
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE campaigns SET config_yaml=?, name=? WHERE id=?`), configYAML, cfg.CampaignName, id)
	return storage.Wrap("UpdateCampaignConfig", err)
}

// --- CampaignLogs ---

func (s *Store) AppendCampaignLog(ctx context.Context, campaignID, line string) error {
	unlock := s.lockWrite()
	defer unlock()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO campaign_logs (campaign_id, line, created_at) VALUES (?,?,?)`),
		campaignID, line, time.Now())
	return storage.Wrap("AppendCampaignLog", err)
}

func (s *Store) TailCampaignLogs(ctx context.Context, campaignID string, afterSeq int64) ([]domain.LogLine, error) {
	return s.tailLogLines(ctx, "campaign_logs", "campaign_id", campaignID, afterSeq)
}
