package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"snag/internal/services"
)

// Submit enqueues a new acquisition request. The pending backlog is bounded:
// when the number of queued jobs has reached the configured limit the request
// is rejected with services.ErrQueueSaturated and nothing is persisted.
func (s *Store) Submit(ctx context.Context, sourceRef, preset, requesterContext string) (*Job, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	token := uuid.NewString()

	var id int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin submit tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var pending int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM jobs WHERE status = ?`, StatusQueued,
		).Scan(&pending); err != nil {
			return fmt.Errorf("count pending jobs: %w", err)
		}
		if s.maxPending > 0 && pending >= s.maxPending {
			return fmt.Errorf("%w: %d jobs already queued (limit %d)",
				services.ErrQueueSaturated, pending, s.maxPending)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
                token, source_ref, preset, requester_context, status,
                created_at, updated_at, queued_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			token,
			sourceRef,
			preset,
			nullableString(requesterContext),
			StatusQueued,
			timestamp,
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByToken fetches a job by its opaque token.
func (s *Store) GetByToken(ctx context.Context, token string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE token = ?`, token)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by token: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job. The cancel_requested column is
// deliberately absent: it belongs to RequestCancel and the requeue paths, and
// a worker persisting stage progress from a stale copy must not clear a
// cancel that arrived mid-stage.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs
         SET source_ref = ?, preset = ?, requester_context = ?, status = ?,
             attempts = ?, error_kind = ?, error_message = ?, raw_file = ?,
             output_file = ?, display_title = ?, updated_at = ?, queued_at = ?,
             last_heartbeat = ?
         WHERE id = ?`,
		job.SourceRef,
		job.Preset,
		nullableString(job.RequesterContext),
		job.Status,
		job.Attempts,
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		nullableString(job.RawFile),
		nullableString(job.OutputFile),
		nullableString(job.DisplayTitle),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.QueuedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(job.LastHeartbeat),
		job.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed jobs from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed jobs from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}
