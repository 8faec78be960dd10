package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveSchedule replaces the stored schedule of a run.
func (s *SQLiteStore) SaveSchedule(ctx context.Context, runID string, tasks []ScheduledTask) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := runExists(ctx, tx, runID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete old schedule: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scheduled_tasks (run_id, position, task, name, kind, time, is_data_op)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tasks {
		if _, err := stmt.ExecContext(ctx, runID, t.Position, t.Task, t.Name, t.Kind, t.Time, t.IsDataOp); err != nil {
			return fmt.Errorf("failed to insert schedule entry %d: %w", t.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetSchedule returns the stored schedule of a run in schedule order.
// Returns empty slice (not nil) if nothing was stored.
func (s *SQLiteStore) GetSchedule(ctx context.Context, runID string) ([]ScheduledTask, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, task, name, kind, time, is_data_op
		FROM scheduled_tasks
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	defer rows.Close()

	tasks := []ScheduledTask{}
	for rows.Next() {
		var t ScheduledTask
		if err := rows.Scan(&t.Position, &t.Task, &t.Name, &t.Kind, &t.Time, &t.IsDataOp); err != nil {
			return nil, fmt.Errorf("failed to scan schedule entry: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule: %w", err)
	}

	return tasks, nil
}

// SaveBarriers replaces the stored barrier assignment of a run.
func (s *SQLiteStore) SaveBarriers(ctx context.Context, runID string, barriers []BarrierAssignment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := runExists(ctx, tx, runID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM barrier_assignments WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete old barriers: %w", err)
	}

	for _, b := range barriers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO barrier_assignments (run_id, virtual_id, name, real_id, producers, consumers, next_same_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, b.Virtual, b.Name, b.Real, b.Producers, b.Consumers, b.NextSameID)
		if err != nil {
			return fmt.Errorf("failed to insert barrier %d: %w", b.Virtual, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetBarriers returns the stored barrier assignment of a run ordered by virtual ID.
func (s *SQLiteStore) GetBarriers(ctx context.Context, runID string) ([]BarrierAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT virtual_id, name, real_id, producers, consumers, next_same_id
		FROM barrier_assignments
		WHERE run_id = ?
		ORDER BY virtual_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query barriers: %w", err)
	}
	defer rows.Close()

	barriers := []BarrierAssignment{}
	for rows.Next() {
		var b BarrierAssignment
		if err := rows.Scan(&b.Virtual, &b.Name, &b.Real, &b.Producers, &b.Consumers, &b.NextSameID); err != nil {
			return nil, fmt.Errorf("failed to scan barrier: %w", err)
		}
		barriers = append(barriers, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating barriers: %w", err)
	}

	return barriers, nil
}

// runExists enforces the foreign key on connections where the pragma is not set.
func runExists(ctx context.Context, tx *sql.Tx, runID string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("failed to check run existence: %w", err)
	}
	return nil
}
