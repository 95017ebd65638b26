// Package journal records per-file outcomes of batch runs in SQLite so an
// interrupted run can be resumed.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Status is the outcome of one file
type Status string

const (
	StatusProcessed Status = "processed"
	StatusPlanned   Status = "planned"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Key identifies a file by where it was read from and written to
type Key struct {
	Input  string
	Output string
}

// Entry is one journal line
type Entry struct {
	RunID      string
	RelPath    string
	InputPath  string
	OutputPath string
	Status     Status
	Detail     string
	Label      string
	Score      float64
	OutputSize int
}

// Totals are the counters stored when a run finishes
type Totals struct {
	Processed int
	Planned   int
	Skipped   int
	Failed    int
}

// Journal handles SQLite operations.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) a journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return j, nil
}

// migrate creates the necessary tables if they don't exist.
func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			processed INTEGER NOT NULL DEFAULT 0,
			planned INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			rel_path TEXT NOT NULL,
			input_path TEXT NOT NULL DEFAULT '',
			output_path TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			score REAL NOT NULL DEFAULT 0,
			output_size INTEGER NOT NULL DEFAULT 0,
			recorded_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_files_paths ON files(input_path, output_path);
	`)
	return err
}

// StartRun registers a new run and returns its ID.
func (j *Journal) StartRun(ctx context.Context) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := uuid.NewString()
	if _, err := j.db.ExecContext(ctx, `INSERT INTO runs (id, started_at) VALUES (?, ?)`, id, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// Record stores the outcome of one file.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO files (run_id, rel_path, input_path, output_path, status, detail, label, score, output_size, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.RelPath, e.InputPath, e.OutputPath, string(e.Status), e.Detail, e.Label, e.Score, e.OutputSize, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert entry for %s: %w", e.RelPath, err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (j *Journal) FinishRun(ctx context.Context, runID string, t Totals) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, processed = ?, planned = ?, skipped = ?, failed = ? WHERE id = ?
	`, time.Now().UTC(), t.Processed, t.Planned, t.Skipped, t.Failed, runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown run %s", runID)
	}
	return nil
}

// Completed returns the files whose most recent outcome is processed.
// Planned entries from dry runs never count as completed.
func (j *Journal) Completed(ctx context.Context) (map[Key]bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `SELECT input_path, output_path, status FROM files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	latest := make(map[Key]Status)
	for rows.Next() {
		var k Key
		var status string
		if err := rows.Scan(&k.Input, &k.Output, &status); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if status == string(StatusPlanned) {
			continue
		}
		latest[k] = Status(status)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	done := make(map[Key]bool)
	for k, status := range latest {
		if status == StatusProcessed {
			done[k] = true
		}
	}
	return done, nil
}

// RunTotals returns the stored counters of a run.
func (j *Journal) RunTotals(ctx context.Context, runID string) (Totals, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var t Totals
	err := j.db.QueryRowContext(ctx, `SELECT processed, planned, skipped, failed FROM runs WHERE id = ?`, runID).
		Scan(&t.Processed, &t.Planned, &t.Skipped, &t.Failed)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	return t, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
