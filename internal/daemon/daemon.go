package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"snag/internal/config"
	"snag/internal/deps"
	"snag/internal/logging"
	"snag/internal/notifications"
	"snag/internal/pipeline"
	"snag/internal/presets"
	"snag/internal/queue"
	"snag/internal/services"
	"snag/internal/stage"
)

// Daemon coordinates the background pipeline, the HTTP API, and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	pipeline *pipeline.Pipeline
	api      *apiServer
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	QueueDBPath  string
	LockFilePath string
	QueueStats   map[queue.Status]int
	StageHealth  []stage.Health
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, pl *pipeline.Pipeline) (*Daemon, error) {
	if cfg == nil || store == nil || pl == nil {
		return nil, errors.New("daemon requires config, store, and pipeline")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "snagd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:    store,
		pipeline: pl,
		notifier: notifications.NewService(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, launches the pipeline, and serves the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another snag daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.pipeline.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start pipeline: %w", err)
	}

	server, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.pipeline.Stop()
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}
	d.api = server
	if err := d.api.start(runCtx); err != nil {
		d.pipeline.Stop()
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		d.api = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("snag daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.api = nil
	d.pipeline.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("snag daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API listener address, or "" when not serving.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Submit validates and enqueues a new job. Submissions beyond the queue
// bound fail with services.ErrQueueSaturated.
func (d *Daemon) Submit(ctx context.Context, sourceRef, preset, requesterContext string) (*queue.Job, error) {
	trimmedRef := strings.TrimSpace(sourceRef)
	if trimmedRef == "" {
		return nil, errors.New("source reference is required")
	}
	parsed, err := url.Parse(trimmedRef)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("source reference %q is not an absolute URL", trimmedRef)
	}

	trimmedPreset := strings.TrimSpace(preset)
	if _, ok := presets.Lookup(trimmedPreset); !ok {
		return nil, fmt.Errorf("unknown preset %q (known: %s)", trimmedPreset, strings.Join(presets.Names(), ", "))
	}

	job, err := d.store.Submit(ctx, trimmedRef, trimmedPreset, strings.TrimSpace(requesterContext))
	if err != nil {
		if errors.Is(err, services.ErrQueueSaturated) {
			if notifyErr := d.notifier.NotifyQueueSaturated(ctx, d.cfg.Queue.MaxPending); notifyErr != nil {
				d.logger.Warn("queue saturation notification failed", logging.Error(notifyErr))
			}
		}
		return nil, err
	}
	d.logger.Info("job submitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("source_ref", job.SourceRef),
		logging.String("preset", job.Preset),
	)
	return job, nil
}

// Cancel requests cancellation of a job by ID.
func (d *Daemon) Cancel(ctx context.Context, id int64) (queue.CancelResult, error) {
	return d.store.RequestCancel(ctx, id)
}

// ListQueue returns jobs filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Job, error) {
	return d.store.List(ctx, statuses...)
}

// DescribeJob fetches a single job; nil when it does not exist.
func (d *Daemon) DescribeJob(ctx context.Context, id int64) (*queue.Job, error) {
	return d.store.GetByID(ctx, id)
}

// ClearQueue removes all jobs.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// ClearCompleted removes only completed jobs.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes only failed jobs.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

// ResetStuck transitions in-flight jobs back to queued for retry.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	return d.store.ResetStuckProcessing(ctx)
}

// RetryFailed resets failed jobs (optionally a subset) back to queued.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to load queue stats", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		QueueStats:   stats,
		StageHealth:  d.pipeline.Health(ctx),
		Dependencies: deps.CheckBinaries(deps.ForConfig(d.cfg)),
	}
}
