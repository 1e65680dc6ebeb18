package persistence

import (
	"context"
)

// initSchema creates the journal tables if they don't exist.
func (j *Journal) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		store_path TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		outcome TEXT,
		reason TEXT
	);

	CREATE TABLE IF NOT EXISTS dispatch_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_run ON dispatch_attempts(run_id);
	CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_task ON dispatch_attempts(task_id, attempt);
	`

	_, err := j.db.ExecContext(ctx, schema)
	return err
}
