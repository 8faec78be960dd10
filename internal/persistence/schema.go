package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		graph TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		arch TEXT NOT NULL,
		pool_size INTEGER NOT NULL,
		status INTEGER NOT NULL,
		makespan INTEGER NOT NULL DEFAULT 0,
		spills INTEGER NOT NULL DEFAULT 0,
		budget INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		peak_barriers INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint, created_at);

	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		task INTEGER NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		time INTEGER NOT NULL,
		is_data_op INTEGER NOT NULL,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS barrier_assignments (
		run_id TEXT NOT NULL,
		virtual_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		real_id INTEGER NOT NULL,
		producers INTEGER NOT NULL,
		consumers INTEGER NOT NULL,
		next_same_id INTEGER NOT NULL,
		PRIMARY KEY (run_id, virtual_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
