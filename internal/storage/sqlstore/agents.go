package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
)

type agentRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	Host              string         `db:"host"`
	Port              int            `db:"port"`
	CPUArch           string         `db:"cpu_arch"`
	GPU               sql.NullString `db:"gpu"`
	RAMGB             float64        `db:"ram_gb"`
	ComputeCapability sql.NullString `db:"compute_capability"`
	EnvironmentType   sql.NullString `db:"environment_type"`
	VRAMGB            sql.NullFloat64 `db:"vram_gb"`
	Status            string         `db:"status"`
	LastHeartbeat     sql.NullTime   `db:"last_heartbeat"`
	RegisteredAt      time.Time      `db:"registered_at"`
	IsTestAgent       bool           `db:"is_test_agent"`
	CurrentTestID     sql.NullString `db:"current_test_id"`
	KittVersion       sql.NullString `db:"kitt_version"`
	StorageFreeGB     float64        `db:"storage_free_gb"`
	GPUUtilPercent    float64        `db:"gpu_util_percent"`
	GPUMemGB          float64        `db:"gpu_mem_gb"`
	UptimeSeconds     int64          `db:"uptime_seconds"`
	TokenPrefix       sql.NullString `db:"token_prefix"`
	TokenHash         sql.NullString `db:"token_hash"`
}

func (r agentRow) toDomain() domain.Agent {
	a := domain.Agent{
		ID:   r.ID,
		Name: r.Name,
		Host: r.Host,
		Port: r.Port,
		Hardware: domain.Hardware{
			CPUArch:           r.CPUArch,
			GPU:               r.GPU.String,
			RAMGB:             r.RAMGB,
			ComputeCapability: r.ComputeCapability.String,
			EnvironmentType:   r.EnvironmentType.String,
		},
		Status:         domain.AgentStatus(r.Status),
		RegisteredAt:   r.RegisteredAt,
		IsTestAgent:    r.IsTestAgent,
		CurrentTestID:  r.CurrentTestID.String,
		KittVersion:    r.KittVersion.String,
		StorageFreeGB:  r.StorageFreeGB,
		GPUUtilPercent: r.GPUUtilPercent,
		GPUMemGB:       r.GPUMemGB,
		UptimeSeconds:  r.UptimeSeconds,
		TokenPrefix:    r.TokenPrefix.String,
		TokenHash:      r.TokenHash.String,
	}
	if r.LastHeartbeat.Valid {
		a.LastHeartbeat = r.LastHeartbeat.Time
	}
	if r.VRAMGB.Valid {
		v := r.VRAMGB.Float64
		a.Hardware.VRAMGB = &v
	}
	return a
}

const agentColumns = `id, name, host, port, cpu_arch, gpu, ram_gb, compute_capability,
	environment_type, vram_gb, status, last_heartbeat, registered_at, is_test_agent,
	current_test_id, kitt_version, storage_free_gb, gpu_util_percent, gpu_mem_gb,
	uptime_seconds, token_prefix, token_hash`

func (s *Store) UpsertAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	unlock := s.lockWrite()
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Agent{}, storage.Wrap("UpsertAgent", err)
	}
	defer tx.Rollback()

	var existingID string
	var tokenPrefix, tokenHash sql.NullString
	row := tx.QueryRowx(s.rebind(`SELECT id, token_prefix, token_hash FROM agents WHERE id = ?`), agent.ID)
	err = row.Scan(&existingID, &tokenPrefix, &tokenHash)
	found := err == nil
	if err != nil && err != sql.ErrNoRows {
		return domain.Agent{}, storage.Wrap("UpsertAgent", err)
	}
	if !found {
		// spec §8 E2E-1: recover by name when the agent's local identity
		// file was lost (new random ID, same registered name).
		row = tx.QueryRowx(s.rebind(`SELECT id, token_prefix, token_hash FROM agents WHERE lower(name) = lower(?)`), agent.Name)
		if err := row.Scan(&existingID, &tokenPrefix, &tokenHash); err == nil {
			agent.ID = existingID
			found = true
		} else if err != sql.ErrNoRows {
			return domain.Agent{}, storage.Wrap("UpsertAgent", err)
		}
	}
	if found {
		agent.TokenPrefix, agent.TokenHash = tokenPrefix.String, tokenHash.String
		_, err = tx.Exec(s.rebind(`
			UPDATE agents SET name=?, host=?, port=?, cpu_arch=?, gpu=?, ram_gb=?,
				compute_capability=?, environment_type=?, vram_gb=?, kitt_version=?
			WHERE id=?`),
			agent.Name, agent.Host, agent.Port, agent.Hardware.CPUArch, nullString(agent.Hardware.GPU),
			agent.Hardware.RAMGB, nullString(agent.Hardware.ComputeCapability), nullString(agent.Hardware.EnvironmentType),
			vramParam(agent.Hardware.VRAMGB), nullString(agent.KittVersion), agent.ID)
		if err != nil {
			return domain.Agent{}, storage.Wrap("UpsertAgent", err)
		}
	} else {
		if agent.Status == "" {
			agent.Status = domain.AgentOffline
		}
		if agent.RegisteredAt.IsZero() {
			agent.RegisteredAt = time.Now()
		}
		_, err = tx.Exec(s.rebind(`
			INSERT INTO agents (`+agentColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
			agent.ID, agent.Name, agent.Host, agent.Port, agent.Hardware.CPUArch, nullString(agent.Hardware.GPU),
			agent.Hardware.RAMGB, nullString(agent.Hardware.ComputeCapability), nullString(agent.Hardware.EnvironmentType),
			vramParam(agent.Hardware.VRAMGB), string(agent.Status), nil, agent.RegisteredAt, s.boolParam(agent.IsTestAgent),
			nullString(agent.CurrentTestID), nullString(agent.KittVersion), agent.StorageFreeGB, agent.GPUUtilPercent,
			agent.GPUMemGB, agent.UptimeSeconds, nullString(agent.TokenPrefix), nullString(agent.TokenHash))
		if err != nil {
			return domain.Agent{}, storage.Wrap("UpsertAgent", err)
		}
		for k, v := range domain.DefaultAgentSettings() {
			if _, err := tx.Exec(s.rebind(`INSERT INTO agent_settings (agent_id, key, value) VALUES (?,?,?)`), agent.ID, k, v); err != nil {
				return domain.Agent{}, storage.Wrap("UpsertAgent", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, storage.Wrap("UpsertAgent", err)
	}
	return s.GetAgent(ctx, agent.ID)
}

func vramParam(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (s *Store) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var r agentRow
	err := s.db.GetContext(ctx, &r, s.rebind(`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return domain.Agent{}, storage.Wrap("GetAgent", fmt.Errorf("agent %s not found", id))
	}
	if err != nil {
		return domain.Agent{}, storage.Wrap("GetAgent", err)
	}
	return r.toDomain(), nil
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (domain.Agent, error) {
	var r agentRow
	err := s.db.GetContext(ctx, &r, s.rebind(`SELECT `+agentColumns+` FROM agents WHERE lower(name) = lower(?)`), name)
	if err == sql.ErrNoRows {
		return domain.Agent{}, storage.Wrap("GetAgentByName", fmt.Errorf("agent %q not found", name))
	}
	if err != nil {
		return domain.Agent{}, storage.Wrap("GetAgentByName", err)
	}
	return r.toDomain(), nil
}

func (s *Store) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+agentColumns+` FROM agents ORDER BY name`); err != nil {
		return nil, storage.Wrap("ListAgents", err)
	}
	out := make([]domain.Agent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) UpdateAgentHeartbeat(ctx context.Context, id string, status domain.AgentStatus, hw domain.Hardware, storageFreeGB, gpuUtil, gpuMem float64, uptimeS int64) error {
	unlock := s.lockWrite()
	defer unlock()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE agents SET status=?, cpu_arch=?, gpu=?, ram_gb=?, compute_capability=?,
			environment_type=?, vram_gb=?, storage_free_gb=?, gpu_util_percent=?, gpu_mem_gb=?,
			uptime_seconds=?, last_heartbeat=?
		WHERE id=?`),
		string(status), hw.CPUArch, nullString(hw.GPU), hw.RAMGB, nullString(hw.ComputeCapability),
		nullString(hw.EnvironmentType), vramParam(hw.VRAMGB), storageFreeGB, gpuUtil, gpuMem, uptimeS,
		time.Now(), id)
	if err != nil {
		return storage.Wrap("UpdateAgentHeartbeat", err)
	}
	return checkRowsAffected("UpdateAgentHeartbeat", res, fmt.Sprintf("agent %s not found", id))
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	unlock := s.lockWrite()
	defer unlock()
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE agents SET status=? WHERE id=?`), string(status), id)
	if err != nil {
		return storage.Wrap("UpdateAgentStatus", err)
	}
	return checkRowsAffected("UpdateAgentStatus", res, fmt.Sprintf("agent %s not found", id))
}

func (s *Store) SetAgentToken(ctx context.Context, id, tokenPrefix, tokenHash string) error {
	unlock := s.lockWrite()
	defer unlock()
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE agents SET token_prefix=?, token_hash=? WHERE id=?`), tokenPrefix, tokenHash, id)
	if err != nil {
		return storage.Wrap("SetAgentToken", err)
	}
	return checkRowsAffected("SetAgentToken", res, fmt.Sprintf("agent %s not found", id))
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	unlock := s.lockWrite()
	defer unlock()
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM agents WHERE id=?`), id); err != nil {
		return storage.Wrap("DeleteAgent", err)
	}
	return nil
}

func checkRowsAffected(op string, res sql.Result, notFoundMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Wrap(op, err)
	}
	if n == 0 {
		return storage.Wrap(op, fmt.Errorf(notFoundMsg))
	}
	return nil
}

// --- AgentSettings ---

func (s *Store) GetAgentSettings(ctx context.Context, agentID string) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, s.rebind(`SELECT key, value FROM agent_settings WHERE agent_id=?`), agentID)
	if err != nil {
		return nil, storage.Wrap("GetAgentSettings", err)
	}
	defer rows.Close()
	out := domain.DefaultAgentSettings()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, storage.Wrap("GetAgentSettings", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) PutAgentSetting(ctx context.Context, agentID, key, value string) error {
	unlock := s.lockWrite()
	defer unlock()
	if s.dialect == "postgres" {
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO agent_settings (agent_id, key, value) VALUES (?,?,?)
			ON CONFLICT (agent_id, key) DO UPDATE SET value = excluded.value`), agentID, key, value)
		return storage.Wrap("PutAgentSetting", err)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO agent_settings (agent_id, key, value) VALUES (?,?,?)
		ON CONFLICT (agent_id, key) DO UPDATE SET value = excluded.value`), agentID, key, value)
	return storage.Wrap("PutAgentSetting", err)
}

// --- AgentCommands ---

func (s *Store) QueueCommand(ctx context.Context, cmd domain.PendingCommand) error {
	unlock := s.lockWrite()
	defer unlock()
	payload, err := marshalPayload(cmd.Payload)
	if err != nil {
		return storage.Wrap("QueueCommand", err)
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO agent_commands (id, agent_id, kind, test_id, payload, created_at) VALUES (?,?,?,?,?,?)`),
		cmd.ID, cmd.AgentID, string(cmd.Kind), nullString(cmd.TestID), payload, cmd.CreatedAt)
	return storage.Wrap("QueueCommand", err)
}

func (s *Store) DrainCommands(ctx context.Context, agentID string) ([]domain.PendingCommand, error) {
	unlock := s.lockWrite()
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storage.Wrap("DrainCommands", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryxContext(ctx, s.rebind(`
		SELECT id, agent_id, kind, test_id, payload, created_at FROM agent_commands
		WHERE agent_id=? ORDER BY created_at`), agentID)
	if err != nil {
		return nil, storage.Wrap("DrainCommands", err)
	}
	var out []domain.PendingCommand
	for rows.Next() {
		var id, aid, kind string
		var testID, payload sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&id, &aid, &kind, &testID, &payload, &createdAt); err != nil {
			rows.Close()
			return nil, storage.Wrap("DrainCommands", err)
		}
		out = append(out, domain.PendingCommand{
			ID: id, AgentID: aid, Kind: domain.CommandKind(kind), TestID: testID.String,
			Payload: unmarshalPayload(payload.String), CreatedAt: createdAt,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("DrainCommands", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM agent_commands WHERE agent_id=?`), agentID); err != nil {
		return nil, storage.Wrap("DrainCommands", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Wrap("DrainCommands", err)
	}
	return out, nil
}

func marshalPayload(p map[string]any) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalPayload(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
