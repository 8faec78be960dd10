package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run matches a lookup.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, graph, fingerprint, arch, pool_size, status, makespan, spills, budget, attempts, peak_barriers, error, created_at`

// SaveRun saves or updates a run. A run without an ID gets a fresh one.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, graph, fingerprint, arch, pool_size, status, makespan, spills, budget, attempts, peak_barriers, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			graph = excluded.graph,
			fingerprint = excluded.fingerprint,
			arch = excluded.arch,
			pool_size = excluded.pool_size,
			status = excluded.status,
			makespan = excluded.makespan,
			spills = excluded.spills,
			budget = excluded.budget,
			attempts = excluded.attempts,
			peak_barriers = excluded.peak_barriers,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`, run.ID, run.Graph, formatFingerprint(run.Fingerprint), run.Arch, run.PoolSize, run.Status,
		run.Makespan, run.Spills, run.Budget, run.Attempts, run.PeakLive, run.Error)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recent successful run of a graph with the given fingerprint.
func (s *SQLiteStore) LatestRun(ctx context.Context, fingerprint uint64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE fingerprint = ? AND status = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, formatFingerprint(fingerprint), RunCompiled)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: fingerprint %s", ErrRunNotFound, formatFingerprint(fingerprint))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns returns the runs of one graph, or of every graph when graph is empty,
// oldest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, graph string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE ? = '' OR graph = ?
		ORDER BY created_at, rowid
	`, graph, graph)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var fingerprint string
	var errorStr sql.NullString
	err := row.Scan(&run.ID, &run.Graph, &fingerprint, &run.Arch, &run.PoolSize, &run.Status,
		&run.Makespan, &run.Spills, &run.Budget, &run.Attempts, &run.PeakLive, &errorStr, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Error = errorStr.String
	if run.Fingerprint, err = strconv.ParseUint(fingerprint, 16, 64); err != nil {
		return nil, fmt.Errorf("invalid fingerprint %q: %w", fingerprint, err)
	}
	return run, nil
}

// Fingerprints are stored as hex text since SQLite integers are signed.
func formatFingerprint(f uint64) string {
	return fmt.Sprintf("%016x", f)
}
