package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
)

func (s *Store) AppendEvent(ctx context.Context, event domain.Event) (domain.Event, error) {
	unlock := s.lockWrite()
	defer unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	var payload any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}

	if s.dialect == "postgres" {
		row := s.db.QueryRowxContext(ctx, s.rebind(`
			INSERT INTO events (type, source_id, payload_json, created_at) VALUES (?,?,?,?) RETURNING seq_id`),
			string(event.Type), event.SourceID, payload, event.CreatedAt)
		if err := row.Scan(&event.SeqID); err != nil {
			return domain.Event{}, storage.Wrap("AppendEvent", err)
		}
		return event, nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO events (type, source_id, payload_json, created_at) VALUES (?,?,?,?)`),
		string(event.Type), event.SourceID, payload, event.CreatedAt)
	if err != nil {
		return domain.Event{}, storage.Wrap("AppendEvent", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Event{}, storage.Wrap("AppendEvent", err)
	}
	event.SeqID = id
	return event, nil
}

func (s *Store) TailEvents(ctx context.Context, sourceID string, afterSeq int64) ([]domain.Event, error) {
	query := `SELECT seq_id, type, source_id, payload_json, created_at FROM events WHERE seq_id > ?`
	args := []any{afterSeq}
	if sourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY seq_id`

	rows, err := s.db.QueryxContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storage.Wrap("TailEvents", err)
	}
	defer rows.Close()

	out := make([]domain.Event, 0)
	for rows.Next() {
		var seqID int64
		var typ, srcID string
		var payload sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&seqID, &typ, &srcID, &payload, &createdAt); err != nil {
			return nil, storage.Wrap("TailEvents", err)
		}
		e := domain.Event{SeqID: seqID, Type: domain.EventType(typ), SourceID: srcID, CreatedAt: createdAt}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, storage.Wrap("TailEvents", rows.Err())
}

// --- Settings ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.rebind(`SELECT value FROM settings WHERE key=?`), key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, storage.Wrap("GetSetting", err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	unlock := s.lockWrite()
	defer unlock()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO settings (key, value) VALUES (?,?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`), key, value)
	return storage.Wrap("SetSetting", err)
}
