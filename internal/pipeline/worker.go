package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"snag/internal/logging"
	"snag/internal/queue"
	"snag/internal/services"
	"snag/internal/staging"
)

func (p *Pipeline) runWorker(ctx context.Context, index int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			p.waitOrShutdown(ctx, time.Duration(p.cfg.Pipeline.ErrorRetryInterval)*time.Second)
			continue
		}
		if job == nil {
			p.notifyDrained(ctx, logger)
			p.waitOrShutdown(ctx, p.pollInterval)
			continue
		}

		p.noteClaimed()
		err = p.processJob(ctx, logger, job)
		p.noteReleased()
		if err != nil && errors.Is(err, context.Canceled) {
			return
		}
	}
}

// notifyDrained fires the queue-drained notification once per busy period,
// when the queue is empty and no worker holds a job.
func (p *Pipeline) notifyDrained(ctx context.Context, logger *slog.Logger) {
	if p.notifier == nil {
		return
	}
	processed, failed, busy, ok := p.drainSnapshot()
	if !ok {
		return
	}
	if err := p.notifier.NotifyQueueDrained(ctx, processed, failed, busy); err != nil {
		logger.Warn("queue drained notification failed", logging.Error(err))
	}
}

func (p *Pipeline) waitOrShutdown(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		wait = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// processJob drives one claimed job through every stage and finishes it with
// exactly one terminal callback. The staging workspace is removed on every
// exit path except daemon shutdown, where startup recovery requeues the job
// and the maintenance sweep reclaims the directory.
func (p *Pipeline) processJob(ctx context.Context, workerLogger *slog.Logger, job *queue.Job) error {
	correlationID := uuid.NewString()
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithRequestID(jobCtx, correlationID)

	logger := logging.WithContext(jobCtx, workerLogger)
	logger.Info("job claimed",
		logging.String("source_ref", job.SourceRef),
		logging.String("preset", job.Preset),
		logging.Int("attempt", job.Attempts),
		logging.String(logging.FieldEventType, "job_claimed"),
	)

	started := false
	for _, step := range p.steps {
		if cancelled, err := p.finishIfCancelRequested(jobCtx, logger, job); err != nil || cancelled {
			return err
		}

		// The claim already moved the job into the first processing status.
		if started {
			job.Status = step.processingStatus
			now := time.Now().UTC()
			job.LastHeartbeat = &now
			if err := p.store.Update(jobCtx, job); err != nil {
				logger.Error("failed to persist stage transition", logging.Error(err))
				return err
			}
		}
		started = true

		if err := p.runStage(jobCtx, logger, step, job); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Debug("stage interrupted by shutdown", logging.String(logging.FieldStage, step.name))
				return err
			}
			return p.finishFailed(jobCtx, logger, job, err)
		}
	}

	return p.finishCompleted(jobCtx, logger, job)
}

func (p *Pipeline) runStage(ctx context.Context, logger *slog.Logger, step stageStep, job *queue.Job) error {
	stageCtx := services.WithStage(ctx, step.name)
	stageLogger := logging.WithContext(stageCtx, logger)

	stageStart := time.Now()
	stageLogger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	if err := step.handler.Prepare(stageCtx, job); err != nil {
		return err
	}
	if err := p.store.Update(stageCtx, job); err != nil {
		return err
	}

	if err := p.executeWithHeartbeat(stageCtx, step, job); err != nil {
		return err
	}

	if err := p.store.Update(stageCtx, job); err != nil {
		return err
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return nil
}

func (p *Pipeline) executeWithHeartbeat(ctx context.Context, step stageStep, job *queue.Job) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go p.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := step.handler.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}

// finishIfCancelRequested resolves a cooperative cancel at a stage boundary.
// Cancelled jobs receive no terminal callback.
func (p *Pipeline) finishIfCancelRequested(ctx context.Context, logger *slog.Logger, job *queue.Job) (bool, error) {
	pending, err := p.store.CancelPending(ctx, job.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		logger.Warn("failed to read cancel flag", logging.Error(err))
		return false, nil
	}
	if !pending {
		return false, nil
	}

	job.Status = queue.StatusCancelled
	job.LastHeartbeat = nil
	if err := p.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist cancellation", logging.Error(err))
		return true, err
	}
	p.cleanupWorkspace(logger, job)
	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	return true, nil
}

func (p *Pipeline) finishCompleted(ctx context.Context, logger *slog.Logger, job *queue.Job) error {
	job.Status = queue.StatusCompleted
	job.LastHeartbeat = nil
	if err := p.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist completion", logging.Error(err))
		return err
	}
	p.cleanupWorkspace(logger, job)
	p.noteCompleted()

	if p.delivery != nil {
		if err := p.delivery.OnComplete(ctx, job); err != nil {
			logger.Warn("completion callback failed", logging.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) finishFailed(ctx context.Context, logger *slog.Logger, job *queue.Job, stageErr error) error {
	kind := services.KindOf(stageErr)

	if services.Retryable(stageErr) && job.Attempts < p.cfg.Pipeline.MaxAttempts {
		p.cleanupWorkspace(logger, job)
		if err := p.store.Requeue(ctx, job.ID); err != nil {
			logger.Error("failed to requeue job", logging.Error(err))
		} else {
			job.RawFile = ""
			logger.Warn("transient failure, job requeued",
				logging.Error(stageErr),
				logging.String(logging.FieldErrorKind, string(kind)),
				logging.Int("attempt", job.Attempts),
				logging.Int("max_attempts", p.cfg.Pipeline.MaxAttempts),
				logging.String(logging.FieldEventType, "job_requeued"),
			)
			return stageErr
		}
	}

	job.SetFailed(string(kind), services.Detail(stageErr))
	if err := p.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
	}
	p.cleanupWorkspace(logger, job)
	p.noteFailed()

	logger.Error("job failed",
		logging.Error(stageErr),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Int("attempt", job.Attempts),
		logging.String(logging.FieldEventType, "job_failed"),
	)

	if p.delivery != nil {
		if err := p.delivery.OnFailure(ctx, job); err != nil {
			logger.Warn("failure callback failed", logging.Error(err))
		}
	}
	return stageErr
}

func (p *Pipeline) cleanupWorkspace(logger *slog.Logger, job *queue.Job) {
	workspace, err := staging.NewWorkspace(p.cfg.Paths.StagingDir, job.Token)
	if err != nil {
		return
	}
	if err := workspace.Remove(); err != nil {
		logger.Warn("failed to remove staging workspace",
			logging.Error(err),
			logging.String("path", workspace.Root),
			logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
		)
	}
}
