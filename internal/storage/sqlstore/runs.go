package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
)

func (s *Store) SaveRun(ctx context.Context, run domain.Run) error {
	unlock := s.lockWrite()
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storage.Wrap("SaveRun", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (id, model, engine, suite, ts, outcome_succeeded, wall_clock_ms, raw_json,
			cpu_arch, gpu, ram_gb, compute_capability, environment_type, vram_gb)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		run.ID, run.Model, run.Engine, nullString(run.Suite), run.Timestamp, s.boolParam(run.OutcomeSucceeded),
		run.WallClock.Milliseconds(), run.RawJSON, nullString(run.Hardware.CPUArch), nullString(run.Hardware.GPU),
		run.Hardware.RAMGB, nullString(run.Hardware.ComputeCapability), nullString(run.Hardware.EnvironmentType),
		vramParam(run.Hardware.VRAMGB))
	if err != nil {
		return storage.Wrap("SaveRun", err)
	}

	for _, b := range run.Benchmarks {
		var benchID int64
		res, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO benchmarks (run_id, name) VALUES (?,?)`), run.ID, b.Name)
		if err != nil {
			return storage.Wrap("SaveRun", err)
		}
		if s.dialect == "postgres" {
			row := tx.QueryRowContext(ctx, `SELECT currval(pg_get_serial_sequence('benchmarks','id'))`)
			if err := row.Scan(&benchID); err != nil {
				return storage.Wrap("SaveRun", err)
			}
		} else {
			benchID, err = res.LastInsertId()
			if err != nil {
				return storage.Wrap("SaveRun", err)
			}
		}
		for _, m := range b.Metrics {
			if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO metrics (benchmark_id, name, value) VALUES (?,?,?)`), benchID, m.Name, m.Value); err != nil {
				return storage.Wrap("SaveRun", err)
			}
		}
	}
	return storage.Wrap("SaveRun", tx.Commit())
}

func (s *Store) loadRun(ctx context.Context, q sqlxQueryer, id string) (domain.Run, error) {
	var (
		model, engine                                        string
		suite, cpuArch, gpu, computeCap, envType              sql.NullString
		ts                                                    time.Time
		outcome                                               any
		wallMS                                                int64
		rawJSON                                               string
		ramGB                                                 sql.NullFloat64
		vramGB                                                sql.NullFloat64
	)
	row := q.QueryRowx(s.rebind(`
		SELECT model, engine, suite, ts, outcome_succeeded, wall_clock_ms, raw_json,
			cpu_arch, gpu, ram_gb, compute_capability, environment_type, vram_gb
		FROM runs WHERE id=?`), id)
	if err := row.Scan(&model, &engine, &suite, &ts, &outcome, &wallMS, &rawJSON,
		&cpuArch, &gpu, &ramGB, &computeCap, &envType, &vramGB); err != nil {
		return domain.Run{}, err
	}

	run := domain.Run{
		ID: id, Model: model, Engine: engine, Suite: suite.String, Timestamp: ts,
		OutcomeSucceeded: scanBool(outcome),
		WallClock:        time.Duration(wallMS) * time.Millisecond,
		RawJSON:          rawJSON,
		Hardware: domain.Hardware{
			CPUArch: cpuArch.String, GPU: gpu.String, ComputeCapability: computeCap.String, EnvironmentType: envType.String,
		},
	}
	if ramGB.Valid {
		run.Hardware.RAMGB = ramGB.Float64
	}
	if vramGB.Valid {
		v := vramGB.Float64
		run.Hardware.VRAMGB = &v
	}

	benchRows, err := q.QueryxContext(ctx, s.rebind(`SELECT id, name FROM benchmarks WHERE run_id=? ORDER BY id`), id)
	if err != nil {
		return domain.Run{}, err
	}
	defer benchRows.Close()
	for benchRows.Next() {
		var benchID int64
		var name string
		if err := benchRows.Scan(&benchID, &name); err != nil {
			return domain.Run{}, err
		}
		b := domain.Benchmark{Name: name}
		metricRows, err := q.QueryxContext(ctx, s.rebind(`SELECT name, value FROM metrics WHERE benchmark_id=? ORDER BY id`), benchID)
		if err != nil {
			return domain.Run{}, err
		}
		for metricRows.Next() {
			var mName string
			var mVal float64
			if err := metricRows.Scan(&mName, &mVal); err != nil {
				metricRows.Close()
				return domain.Run{}, err
			}
			b.Metrics = append(b.Metrics, domain.Metric{Name: mName, Value: mVal})
		}
		metricRows.Close()
		run.Benchmarks = append(run.Benchmarks, b)
	}
	return run, benchRows.Err()
}

func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	run, err := s.loadRun(ctx, s.db, id)
	if err == sql.ErrNoRows {
		return domain.Run{}, storage.Wrap("GetRun", fmt.Errorf("run %s not found", id))
	}
	if err != nil {
		return domain.Run{}, storage.Wrap("GetRun", err)
	}
	return run, nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	unlock := s.lockWrite()
	defer unlock()
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE id=?`), id)
	return storage.Wrap("DeleteRun", err)
}

func (s *Store) QueryRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, string, error) {
	where := "WHERE 1=1"
	args := []any{}
	if filter.Model != "" {
		where += " AND model = ?"
		args = append(args, filter.Model)
	}
	if filter.Engine != "" {
		where += " AND engine = ?"
		args = append(args, filter.Engine)
	}
	if filter.Suite != "" {
		where += " AND suite = ?"
		args = append(args, filter.Suite)
	}
	if filter.Since != nil {
		where += " AND ts >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		where += " AND ts <= ?"
		args = append(args, *filter.Until)
	}
	cursorTS, cursorID, hasCursor := decodeCursor(filter.Cursor)
	if hasCursor {
		where += " AND (ts, id) > (?, ?)"
		args = append(args, cursorTS, cursorID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}
	args = append(args, limit+1)

	var ids []string
	rows, err := s.db.QueryxContext(ctx, s.rebind(`SELECT id FROM runs `+where+` ORDER BY ts, id LIMIT ?`), args...)
	if err != nil {
		return nil, "", storage.Wrap("QueryRuns", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, "", storage.Wrap("QueryRuns", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, "", storage.Wrap("QueryRuns", err)
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}
	out := make([]domain.Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.loadRun(ctx, s.db, id)
		if err != nil {
			return nil, "", storage.Wrap("QueryRuns", err)
		}
		out = append(out, r)
	}
	next := ""
	if hasMore && len(out) > 0 {
		last := out[len(out)-1]
		next = encodeCursor(last.Timestamp, last.ID)
	}
	return out, next, nil
}

func encodeCursor(ts time.Time, id string) string {
	return fmt.Sprintf("%d:%s", ts.UnixNano(), id)
}

func decodeCursor(cursor string) (time.Time, string, bool) {
	if cursor == "" {
		return time.Time{}, "", false
	}
	var nanos int64
	var id string
	if _, err := fmt.Sscanf(cursor, "%d:%s", &nanos, &id); err != nil {
		return time.Time{}, "", false
	}
	return time.Unix(0, nanos), id, true
}

func (s *Store) Aggregate(ctx context.Context, groupBy, metric string, filter domain.RunFilter) ([]domain.AggregateStat, error) {
	groupCol := "model"
	switch groupBy {
	case "engine":
		groupCol = "engine"
	case "suite":
		groupCol = "suite"
	}

	where := "WHERE m.name = ?"
	args := []any{metric}
	if filter.Model != "" {
		where += " AND r.model = ?"
		args = append(args, filter.Model)
	}
	if filter.Engine != "" {
		where += " AND r.engine = ?"
		args = append(args, filter.Engine)
	}
	if filter.Suite != "" {
		where += " AND r.suite = ?"
		args = append(args, filter.Suite)
	}

	// NULL-skip (spec §4.1): the join through benchmarks/metrics already
	// excludes runs that never recorded this metric.
	query := fmt.Sprintf(`
		SELECT r.%s AS grp, m.value
		FROM runs r
		JOIN benchmarks b ON b.run_id = r.id
		JOIN metrics m ON m.benchmark_id = b.id
		%s`, groupCol, where)

	rows, err := s.db.QueryxContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storage.Wrap("Aggregate", err)
	}
	defer rows.Close()

	groups := make(map[string][]float64)
	for rows.Next() {
		var grp sql.NullString
		var val float64
		if err := rows.Scan(&grp, &val); err != nil {
			return nil, storage.Wrap("Aggregate", err)
		}
		groups[grp.String] = append(groups[grp.String], val)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("Aggregate", err)
	}

	out := make([]domain.AggregateStat, 0, len(groups))
	for key, values := range groups {
		out = append(out, aggregateStat(key, values))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupKey < out[j].GroupKey })
	return out, nil
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
