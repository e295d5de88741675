package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
)

const quickTestColumns = `id, agent_id, model_path, engine_key, suite, force, status, campaign_id,
	created_at, started_at, completed_at, result_id, error`

func scanQuickTest(row interface{ Scan(...any) error }) (domain.QuickTest, error) {
	var (
		id, agentID, modelPath, engineKey, status string
		suite, campaignID, resultID, errMsg        sql.NullString
		force                                      any
		createdAt                                  time.Time
		startedAt, completedAt                     sql.NullTime
	)
	if err := row.Scan(&id, &agentID, &modelPath, &engineKey, &suite, &force, &status, &campaignID,
		&createdAt, &startedAt, &completedAt, &resultID, &errMsg); err != nil {
		return domain.QuickTest{}, err
	}
	qt := domain.QuickTest{
		ID: id, AgentID: agentID, ModelPath: modelPath, EngineKey: engineKey, Suite: suite.String,
		Status: domain.QuickTestStatus(status), CampaignID: campaignID.String, CreatedAt: createdAt,
		ResultID: resultID.String, Error: errMsg.String,
	}
	if startedAt.Valid {
		t := startedAt.Time
		qt.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		qt.CompletedAt = &t
	}
	switch v := force.(type) {
	case bool:
		qt.Force = v
	case int64:
		qt.Force = v != 0
	}
	return qt, nil
}

func (s *Store) CreateQuickTest(ctx context.Context, qt domain.QuickTest) error {
	unlock := s.lockWrite()
	defer unlock()
	if qt.CreatedAt.IsZero() {
		qt.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO quick_tests (`+quickTestColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		qt.ID, qt.AgentID, qt.ModelPath, qt.EngineKey, nullString(qt.Suite), s.boolParam(qt.Force),
		string(qt.Status), nullString(qt.CampaignID), qt.CreatedAt, qt.StartedAt, qt.CompletedAt,
		nullString(qt.ResultID), nullString(qt.Error))
	return storage.Wrap("CreateQuickTest", err)
}

func (s *Store) GetQuickTest(ctx context.Context, id string) (domain.QuickTest, error) {
	row := s.db.QueryRowxContext(ctx, s.rebind(`SELECT `+quickTestColumns+` FROM quick_tests WHERE id=?`), id)
	qt, err := scanQuickTest(row)
	if err == sql.ErrNoRows {
		return domain.QuickTest{}, storage.Wrap("GetQuickTest", fmt.Errorf("quick test %s not found", id))
	}
	if err != nil {
		return domain.QuickTest{}, storage.Wrap("GetQuickTest", err)
	}
	return qt, nil
}

func (s *Store) ListQuickTestsByCampaign(ctx context.Context, campaignID string) ([]domain.QuickTest, error) {
	rows, err := s.db.QueryxContext(ctx, s.rebind(`SELECT `+quickTestColumns+` FROM quick_tests WHERE campaign_id=? ORDER BY created_at`), campaignID)
	if err != nil {
		return nil, storage.Wrap("ListQuickTestsByCampaign", err)
	}
	defer rows.Close()
	var out []domain.QuickTest
	for rows.Next() {
		qt, err := scanQuickTest(rows)
		if err != nil {
			return nil, storage.Wrap("ListQuickTestsByCampaign", err)
		}
		out = append(out, qt)
	}
	return out, storage.Wrap("ListQuickTestsByCampaign", rows.Err())
}

func (s *Store) ListActiveQuickTestsByAgent(ctx context.Context, agentID string) ([]domain.QuickTest, error) {
	rows, err := s.db.QueryxContext(ctx, s.rebind(
		`SELECT `+quickTestColumns+` FROM quick_tests WHERE agent_id=? AND status IN (?,?)`),
		agentID, string(domain.QuickTestDispatched), string(domain.QuickTestRunning))
	if err != nil {
		return nil, storage.Wrap("ListActiveQuickTestsByAgent", err)
	}
	defer rows.Close()
	var out []domain.QuickTest
	for rows.Next() {
		qt, err := scanQuickTest(rows)
		if err != nil {
			return nil, storage.Wrap("ListActiveQuickTestsByAgent", err)
		}
		out = append(out, qt)
	}
	return out, storage.Wrap("ListActiveQuickTestsByAgent", rows.Err())
}

func (s *Store) UpdateQuickTestStatus(ctx context.Context, id string, status domain.QuickTestStatus, errMsg string) error {
	unlock := s.lockWrite()
	defer unlock()

	now := time.Now()
	switch status {
	case domain.QuickTestRunning:
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE quick_tests SET status=?, error=?, started_at=COALESCE(started_at, ?) WHERE id=?`),
			string(status), nullString(errMsg), now, id)
		if err != nil {
			return storage.Wrap("UpdateQuickTestStatus", err)
		}
		return checkRowsAffected("UpdateQuickTestStatus", res, fmt.Sprintf("quick test %s not found", id))
	case domain.QuickTestCompleted, domain.QuickTestFailed, domain.QuickTestCancelled:
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE quick_tests SET status=?, error=?, completed_at=? WHERE id=?`),
			string(status), nullString(errMsg), now, id)
		if err != nil {
			return storage.Wrap("UpdateQuickTestStatus", err)
		}
		return checkRowsAffected("UpdateQuickTestStatus", res, fmt.Sprintf("quick test %s not found", id))
	default:
		res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE quick_tests SET status=?, error=? WHERE id=?`), string(status), nullString(errMsg), id)
		if err != nil {
			return storage.Wrap("UpdateQuickTestStatus", err)
		}
		return checkRowsAffected("UpdateQuickTestStatus", res, fmt.Sprintf("quick test %s not found", id))
	}
}

func (s *Store) LinkQuickTestResult(ctx context.Context, id, resultID string) error {
	unlock := s.lockWrite()
	defer unlock()
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE quick_tests SET result_id=? WHERE id=?`), resultID, id)
	if err != nil {
		return storage.Wrap("LinkQuickTestResult", err)
	}
	return checkRowsAffected("LinkQuickTestResult", res, fmt.Sprintf("quick test %s not found", id))
}

// --- QuickTestLogs ---

func (s *Store) AppendQuickTestLog(ctx context.Context, quickTestID, line string) error {
	unlock := s.lockWrite()
	defer unlock()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO quick_test_logs (quick_test_id, line, created_at) VALUES (?,?,?)`),
		quickTestID, line, time.Now())
	return storage.Wrap("AppendQuickTestLog", err)
}

func (s *Store) TailQuickTestLogs(ctx context.Context, quickTestID string, afterSeq int64) ([]domain.LogLine, error) {
	return s.tailLogLines(ctx, "quick_test_logs", "quick_test_id", quickTestID, afterSeq)
}

func (s *Store) tailLogLines(ctx context.Context, table, fkCol, sourceID string, afterSeq int64) ([]domain.LogLine, error) {
	rows, err := s.db.QueryxContext(ctx, s.rebind(
		`SELECT seq_id, line, created_at FROM `+table+` WHERE `+fkCol+`=? AND seq_id > ? ORDER BY seq_id`),
		sourceID, afterSeq)
	if err != nil {
		return nil, storage.Wrap("TailLogs", err)
	}
	defer rows.Close()
	out := make([]domain.LogLine, 0)
	for rows.Next() {
		var seqID int64
		var line string
		var createdAt time.Time
		if err := rows.Scan(&seqID, &line, &createdAt); err != nil {
			return nil, storage.Wrap("TailLogs", err)
		}
		out = append(out, domain.LogLine{SeqID: seqID, SourceID: sourceID, Line: line, CreatedAt: createdAt})
	}
	return out, storage.Wrap("TailLogs", rows.Err())
}
