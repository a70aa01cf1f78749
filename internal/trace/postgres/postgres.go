// Package postgres persists tick traces to a shared Postgres database,
// for multi-instance trace comparison. Grounded on the teacher's
// internal/storage/postgres.Store (pgxpool-backed reader), trimmed to
// two tables, tick_traces and command_log, and their write paths.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pv/wtp-simulator/internal/trace"
)

// Config selects the connection string.
type Config struct {
	ConnString string
	MaxConns   int32
}

// IsPostgresURL reports whether value looks like a postgres DSN.
func IsPostgresURL(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

// Recorder writes tick traces into tick_traces.
type Recorder struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres trace: connection string is empty")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres trace: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres trace: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS tick_traces (
		seq BIGINT PRIMARY KEY,
		sim_seconds DOUBLE PRECISION NOT NULL,
		wall_time TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres trace: create table: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS command_log (
		seq BIGINT PRIMARY KEY,
		at_sim DOUBLE PRECISION NOT NULL,
		at_wall TIMESTAMPTZ NOT NULL,
		cmd TEXT NOT NULL,
		args TEXT,
		result TEXT
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres trace: create command_log table: %w", err)
	}
	return &Recorder{pool: pool}, nil
}

func (r *Recorder) Record(ctx context.Context, rec trace.TickRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres trace: marshal: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO tick_traces (seq, sim_seconds, wall_time, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (seq) DO UPDATE SET sim_seconds = EXCLUDED.sim_seconds, wall_time = EXCLUDED.wall_time,
			payload = EXCLUDED.payload`,
		rec.Seq, rec.SimSeconds, rec.WallTime, payload)
	if err != nil {
		return fmt.Errorf("postgres trace: insert: %w", err)
	}
	return nil
}

func (r *Recorder) RecordCommand(ctx context.Context, rec trace.CommandAudit) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO command_log (seq, at_sim, at_wall, cmd, args, result)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (seq) DO UPDATE SET at_sim = EXCLUDED.at_sim, at_wall = EXCLUDED.at_wall,
			cmd = EXCLUDED.cmd, args = EXCLUDED.args, result = EXCLUDED.result`,
		rec.Seq, rec.AtSim, rec.AtWall, rec.Cmd, rec.Args, rec.Result)
	if err != nil {
		return fmt.Errorf("postgres trace: insert command: %w", err)
	}
	return nil
}

func (r *Recorder) Range(ctx context.Context) (first, last, count int64, err error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(MIN(seq),0), COALESCE(MAX(seq),0), COUNT(*) FROM tick_traces`)
	if err := row.Scan(&first, &last, &count); err != nil {
		return 0, 0, 0, fmt.Errorf("postgres trace: range: %w", err)
	}
	return first, last, count, nil
}

func (r *Recorder) At(ctx context.Context, seq int64) (trace.TickRecord, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT payload FROM tick_traces WHERE seq = $1`, seq)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return trace.TickRecord{}, false, nil
		}
		return trace.TickRecord{}, false, fmt.Errorf("postgres trace: at: %w", err)
	}
	var rec trace.TickRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return trace.TickRecord{}, false, fmt.Errorf("postgres trace: decode: %w", err)
	}
	return rec, true, nil
}

func (r *Recorder) Close() error {
	r.pool.Close()
	return nil
}
