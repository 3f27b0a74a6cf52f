// Package runstore persists run history to SQLite.
//
// The store is the queryable counterpart of the per-run JSON registry: it
// holds finished runs and their per-stage outcomes for the runs CLI and the
// HTTP surface. One database file serves one quartz installation.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run is not in the store.
var ErrNotFound = errors.New("run not found")

// StageOutcome is one stage's recorded result.
type StageOutcome struct {
	Stage    string        `json:"stage"`
	Outcome  string        `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Run is one finished pipeline run.
type Run struct {
	RunID     string         `json:"run_id"`
	Workflow  string         `json:"workflow"`
	Ref       string         `json:"ref"`
	Trigger   string         `json:"trigger"`
	Outcome   string         `json:"outcome"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Stages    []StageOutcome `json:"stages,omitempty"`
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	workflow   TEXT NOT NULL,
	ref        TEXT NOT NULL,
	trigger    TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_group ON runs(workflow, ref);

CREATE TABLE IF NOT EXISTS stage_outcomes (
	run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	stage       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ns INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
);
`

// Open opens (creating if needed) the store at the given path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("run store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	// The sqlite driver serializes writers; a single connection avoids
	// SQLITE_BUSY between the CLI and the HTTP surface.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply run store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces one run with its stage outcomes.
func (s *Store) Put(ctx context.Context, run Run) error {
	if run.RunID == "" {
		return fmt.Errorf("run_id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, workflow, ref, trigger, outcome, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Workflow, run.Ref, run.Trigger, run.Outcome,
		run.StartedAt.UnixNano(), run.EndedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_outcomes WHERE run_id = ?`, run.RunID); err != nil {
		return fmt.Errorf("clear stage outcomes: %w", err)
	}
	for i, st := range run.Stages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stage_outcomes (run_id, position, stage, outcome, reason, error, duration_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, i, st.Stage, st.Outcome, st.Reason, st.Error, int64(st.Duration))
		if err != nil {
			return fmt.Errorf("insert stage outcome: %w", err)
		}
	}

	return tx.Commit()
}

// Get loads one run with its stage outcomes.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, workflow, ref, trigger, outcome, started_at, ended_at
		 FROM runs WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, outcome, reason, error, duration_ns
		 FROM stage_outcomes WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stage outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var st StageOutcome
		var durNS int64
		if err := rows.Scan(&st.Stage, &st.Outcome, &st.Reason, &st.Error, &durNS); err != nil {
			return nil, fmt.Errorf("scan stage outcome: %w", err)
		}
		st.Duration = time.Duration(durNS)
		run.Stages = append(run.Stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs, newest first, without stage outcomes.
// A non-positive limit defaults to 50.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, workflow, ref, trigger, outcome, started_at, ended_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var startedNS, endedNS int64
	if err := row.Scan(&run.RunID, &run.Workflow, &run.Ref, &run.Trigger, &run.Outcome, &startedNS, &endedNS); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, startedNS).UTC()
	run.EndedAt = time.Unix(0, endedNS).UTC()
	return &run, nil
}
