// Package ledger records runs and per-field outcomes in SQLite so failed
// fields of an earlier run can be queued again.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Run statuses.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	config TEXT,
	status TEXT,
	failed INTEGER DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS field_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	field_id TEXT,
	crop TEXT,
	outcome TEXT,
	reason TEXT,
	created_at DATETIME
);
CREATE INDEX IF NOT EXISTS field_outcomes_run ON field_outcomes (run_id, outcome);
`

// Ledger is a SQLite-backed run log.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer; the fetch loop is sequential anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Run is one recorded fetch run.
type Run struct {
	ID     string
	ledger *Ledger
}

// RunInfo summarizes a stored run.
type RunInfo struct {
	ID        string
	Status    string
	Failed    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeginRun stores a new run with its configuration serialized as JSON.
func (l *Ledger) BeginRun(ctx context.Context, config any) (*Run, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode run config: %w", err)
	}

	id := uuid.NewString()
	now := l.now()
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO runs (id, config, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(cfg), StatusRunning, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{ID: id, ledger: l}, nil
}

// RecordField stores the outcome of one field.
func (r *Run) RecordField(ctx context.Context, fieldID, crop, outcome, reason string) error {
	_, err := r.ledger.db.ExecContext(ctx,
		`INSERT INTO field_outcomes (run_id, field_id, crop, outcome, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, fieldID, crop, outcome, reason, r.ledger.now())
	return err
}

// Finish sets the final status and failed count.
func (r *Run) Finish(ctx context.Context, status string, failed int) error {
	_, err := r.ledger.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, failed = ?, updated_at = ? WHERE id = ?`,
		status, failed, r.ledger.now(), r.ID)
	return err
}

// Get returns one run.
func (l *Ledger) Get(ctx context.Context, runID string) (RunInfo, error) {
	info := RunInfo{ID: runID}
	err := l.db.QueryRowContext(ctx,
		`SELECT status, failed, created_at, updated_at FROM runs WHERE id = ?`, runID).
		Scan(&info.Status, &info.Failed, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return info, err
}

// Runs lists runs, newest first.
func (l *Ledger) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, status, failed, created_at, updated_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.ID, &info.Status, &info.Failed, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// FieldsWithOutcome returns the distinct field ids of a run with the given
// outcome, in the order they were first recorded.
func (l *Ledger) FieldsWithOutcome(ctx context.Context, runID, outcome string) ([]string, error) {
	if _, err := l.Get(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT field_id FROM field_outcomes WHERE run_id = ? AND outcome = ? GROUP BY field_id ORDER BY MIN(id)`,
		runID, outcome)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
