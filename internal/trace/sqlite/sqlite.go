// Package sqlite persists tick traces to a SQLite file so runs can be
// diffed after the fact. Grounded on the teacher's
// internal/storage/sqlite.Store: same Pragmas struct (each pragma is
// applied only when set; the zero value applies none), trimmed to two
// tables: tick_traces and command_log.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv/wtp-simulator/internal/trace"
)

// Pragmas configures cache and journaling behavior, mirroring the
// knobs the teacher exposes for its history reader.
type Pragmas struct {
	CacheMB    int
	WAL        bool
	SyncOff    bool
	TempMemory bool
}

// Config selects the database file and pragmas.
type Config struct {
	Source  string
	Pragmas Pragmas
}

// Recorder writes tick traces to tick_traces(seq integer primary key, ...)
// and command audits to command_log(seq integer primary key, ...).
type Recorder struct {
	db        *sql.DB
	stmtWrite *sql.Stmt
	stmtCmd   *sql.Stmt
}

// IsSource reports whether value looks like a sqlite source string.
func IsSource(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "sqlite://") || strings.HasSuffix(lower, ".db")
}

// NormalizeSource strips the sqlite:// scheme if present.
func NormalizeSource(value string) string {
	return strings.TrimPrefix(value, "sqlite://")
}

func New(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("sqlite trace: database path is empty")
	}
	db, err := sql.Open("sqlite", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("sqlite trace: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if cfg.Pragmas.WAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite trace: pragma journal_mode: %w", err)
		}
	}
	if cfg.Pragmas.SyncOff {
		if _, err := db.ExecContext(ctx, "PRAGMA synchronous=OFF"); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite trace: pragma synchronous: %w", err)
		}
	}
	if cfg.Pragmas.TempMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA temp_store=MEMORY"); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite trace: pragma temp_store: %w", err)
		}
	}
	if cfg.Pragmas.CacheMB > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA cache_size=-%d", cfg.Pragmas.CacheMB*1024)); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite trace: pragma cache_size: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tick_traces (
		seq INTEGER PRIMARY KEY,
		sim_seconds REAL NOT NULL,
		wall_time TEXT NOT NULL,
		payload TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite trace: create table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS command_log (
		seq INTEGER PRIMARY KEY,
		at_sim REAL NOT NULL,
		at_wall TEXT NOT NULL,
		cmd TEXT NOT NULL,
		args TEXT,
		result TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite trace: create command_log table: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, `INSERT OR REPLACE INTO tick_traces
		(seq, sim_seconds, wall_time, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite trace: prepare insert: %w", err)
	}
	stmtCmd, err := db.PrepareContext(ctx, `INSERT OR REPLACE INTO command_log
		(seq, at_sim, at_wall, cmd, args, result) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite trace: prepare command insert: %w", err)
	}

	return &Recorder{db: db, stmtWrite: stmt, stmtCmd: stmtCmd}, nil
}

func (r *Recorder) Record(ctx context.Context, rec trace.TickRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite trace: marshal: %w", err)
	}
	_, err = r.stmtWrite.ExecContext(ctx, rec.Seq, rec.SimSeconds, rec.WallTime.Format("2006-01-02T15:04:05.999999999Z07:00"), string(payload))
	if err != nil {
		return fmt.Errorf("sqlite trace: insert: %w", err)
	}
	return nil
}

func (r *Recorder) RecordCommand(ctx context.Context, rec trace.CommandAudit) error {
	_, err := r.stmtCmd.ExecContext(ctx, rec.Seq, rec.AtSim, rec.AtWall.Format(time.RFC3339Nano), rec.Cmd, rec.Args, rec.Result)
	if err != nil {
		return fmt.Errorf("sqlite trace: insert command: %w", err)
	}
	return nil
}

func (r *Recorder) Range(ctx context.Context) (first, last, count int64, err error) {
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(MIN(seq),0), COALESCE(MAX(seq),0), COUNT(*) FROM tick_traces`)
	if err := row.Scan(&first, &last, &count); err != nil {
		return 0, 0, 0, fmt.Errorf("sqlite trace: range: %w", err)
	}
	return first, last, count, nil
}

func (r *Recorder) At(ctx context.Context, seq int64) (trace.TickRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT payload FROM tick_traces WHERE seq = ?`, seq)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return trace.TickRecord{}, false, nil
		}
		return trace.TickRecord{}, false, fmt.Errorf("sqlite trace: at: %w", err)
	}
	var rec trace.TickRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return trace.TickRecord{}, false, fmt.Errorf("sqlite trace: decode: %w", err)
	}
	return rec, true, nil
}

func (r *Recorder) Close() error {
	_ = r.stmtWrite.Close()
	_ = r.stmtCmd.Close()
	return r.db.Close()
}
