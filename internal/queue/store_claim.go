package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CancelResult describes what a cancellation request accomplished.
type CancelResult string

const (
	CancelNotFound  CancelResult = "not_found"
	CancelImmediate CancelResult = "cancelled"
	CancelRequested CancelResult = "requested"
	CancelTerminal  CancelResult = "already_finished"
)

// ClaimNext atomically hands the oldest queued job to a worker, moving it to
// fetching. Returns nil when the queue is empty. The guarded UPDATE ensures a
// job is dequeued exactly once even with concurrent workers.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for {
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = ? ORDER BY queued_at, id LIMIT 1`,
			StatusQueued,
		)
		var id int64
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select next queued job: %w", err)
		}

		res, err := s.execWithRetry(ctx,
			`UPDATE jobs
             SET status = ?, attempts = attempts + 1, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusFetching, now, now, id, StatusQueued,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker claimed it between the select and the update.
			continue
		}
		return s.GetByID(ctx, id)
	}
}

// Requeue returns a job to the back of the pending queue, preserving its
// attempt count. Heartbeat and progress fields are cleared.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE jobs
         SET status = ?, queued_at = ?, updated_at = ?, last_heartbeat = NULL,
             raw_file = NULL
         WHERE id = ?`,
		StatusQueued, now, now, id,
	); err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// RequestCancel cancels a queued job outright or flags an in-flight job for
// cooperative cancellation at its next stage boundary.
func (s *Store) RequestCancel(ctx context.Context, id int64) (CancelResult, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusCancelled, now, id, StatusQueued,
	)
	if err != nil {
		return CancelNotFound, fmt.Errorf("cancel queued job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return CancelNotFound, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return CancelImmediate, nil
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return CancelNotFound, err
	}
	if job == nil {
		return CancelNotFound, nil
	}
	if IsTerminal(job.Status) {
		return CancelTerminal, nil
	}

	if err := s.execWithoutResultRetry(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		now, id,
	); err != nil {
		return CancelNotFound, fmt.Errorf("flag cancel: %w", err)
	}
	return CancelRequested, nil
}

// CancelPending reports whether a cooperative cancel has been requested for a job.
func (s *Store) CancelPending(ctx context.Context, id int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id)
	var flag int
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}
