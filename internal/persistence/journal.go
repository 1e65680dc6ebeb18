package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Attempt is one resolved dispatch as recorded in the journal.
type Attempt struct {
	RunID     string
	TaskID    string
	Attempt   int
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// RunRecord summarizes one orchestrator run.
type RunRecord struct {
	ID         string
	StorePath  string
	StartedAt  time.Time
	FinishedAt time.Time // Zero while the run is active
	Outcome    string
	Reason     string
}

// Journal is an append-only SQLite history of runs and dispatch attempts.
// It is diagnostic only; the task store remains the source of truth.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) a journal database at path.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	return openJournal(ctx, connStr)
}

// NewMemoryJournal creates a private in-memory journal for testing.
func NewMemoryJournal(ctx context.Context) (*Journal, error) {
	// A unique name keeps shared-cache databases from leaking between callers
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return openJournal(ctx, connStr)
}

func openJournal(ctx context.Context, connStr string) (*Journal, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// modernc.org/sqlite needs foreign keys enabled via PRAGMA
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Single connection so the in-memory database stays alive and writes serialize
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// StartRun records the beginning of a run and returns its ID.
func (j *Journal) StartRun(ctx context.Context, storePath string) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, store_path, started_at)
		VALUES (?, ?, ?)
	`, id, storePath, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// FinishRun records how a run halted.
func (j *Journal) FinishRun(ctx context.Context, runID, outcome, reason string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, outcome = ?, reason = ?
		WHERE id = ?
	`, time.Now().UnixNano(), outcome, reason, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// Record appends a resolved dispatch attempt.
func (j *Journal) Record(ctx context.Context, a Attempt) error {
	success := 0
	if a.Success {
		success = 1
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO dispatch_attempts (run_id, task_id, attempt, started_at, duration_ms, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.RunID, a.TaskID, a.Attempt, a.StartedAt.UnixNano(), a.Duration.Milliseconds(), success, a.Error)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RunAttempts returns every attempt of a run in the order they resolved.
func (j *Journal) RunAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	return j.queryAttempts(ctx, `
		SELECT run_id, task_id, attempt, started_at, duration_ms, success, error
		FROM dispatch_attempts
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
}

// TaskHistory returns every attempt for a task across runs.
func (j *Journal) TaskHistory(ctx context.Context, taskID string) ([]Attempt, error) {
	return j.queryAttempts(ctx, `
		SELECT run_id, task_id, attempt, started_at, duration_ms, success, error
		FROM dispatch_attempts
		WHERE task_id = ?
		ORDER BY id ASC
	`, taskID)
}

// Runs lists runs recorded for a store path, newest first.
func (j *Journal) Runs(ctx context.Context, storePath string) ([]RunRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, store_path, started_at, COALESCE(finished_at, 0), COALESCE(outcome, ''), COALESCE(reason, '')
		FROM runs
		WHERE store_path = ?
		ORDER BY started_at DESC
	`, storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var r RunRecord
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.StorePath, &started, &finished, &r.Outcome, &r.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		if finished != 0 {
			r.FinishedAt = time.Unix(0, finished)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func (j *Journal) queryAttempts(ctx context.Context, query string, arg string) ([]Attempt, error) {
	rows, err := j.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	// Return empty slice (not nil) if no history
	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var started, durationMS int64
		var success int
		var errStr sql.NullString
		if err := rows.Scan(&a.RunID, &a.TaskID, &a.Attempt, &started, &durationMS, &success, &errStr); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.StartedAt = time.Unix(0, started)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.Success = success == 1
		a.Error = errStr.String
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}
