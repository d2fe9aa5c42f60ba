package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"snag/internal/config"
	"snag/internal/fetch"
	"snag/internal/logging"
	"snag/internal/notifications"
	"snag/internal/queue"
	"snag/internal/sink"
	"snag/internal/stage"
	"snag/internal/staging"
	"snag/internal/transcode"
)

// stageStep binds a processing status to its handler.
type stageStep struct {
	name             string
	processingStatus queue.Status
	handler          stage.Handler
}

// Pipeline drives jobs through fetch, transcode, and delivery with a bounded
// worker pool.
type Pipeline struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	delivery     sink.Delivery
	steps        []stageStep
	pollInterval time.Duration
	heartbeat    *HeartbeatMonitor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Drain tracking for the queue-drained notification.
	notifier       notifications.Service
	drainMu        sync.Mutex
	inFlight       int
	drainProcessed int
	drainFailed    int
	busySince      time.Time
}

// New constructs a pipeline with default stage handlers.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Pipeline, error) {
	notifier := notifications.NewService(cfg)
	fetcher, err := fetch.NewFetcher(cfg, store, logger)
	if err != nil {
		return nil, fmt.Errorf("construct fetcher: %w", err)
	}
	transcoder, err := transcode.NewTranscoder(cfg, store, logger)
	if err != nil {
		return nil, fmt.Errorf("construct transcoder: %w", err)
	}
	deliverer := sink.NewDeliverer(cfg, store, logger)
	delivery := sink.NewNotifyingDelivery(logger, notifier)
	p := NewWithHandlers(cfg, store, logger, fetcher, transcoder, deliverer, delivery)
	p.notifier = notifier
	return p, nil
}

// NewWithHandlers allows injecting stage handlers and the delivery callback
// surface (used in tests).
func NewWithHandlers(cfg *config.Config, store *queue.Store, logger *slog.Logger, fetcher, transcoder, deliverer stage.Handler, delivery sink.Delivery) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		logger:   logger.With(logging.String(logging.FieldComponent, "pipeline")),
		delivery: delivery,
		steps: []stageStep{
			{name: "fetch", processingStatus: queue.StatusFetching, handler: fetcher},
			{name: "transcode", processingStatus: queue.StatusTranscoding, handler: transcoder},
			{name: "deliver", processingStatus: queue.StatusDelivering, handler: deliverer},
		},
		pollInterval: time.Duration(cfg.Pipeline.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Pipeline.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Pipeline.HeartbeatTimeout)*time.Second,
		),
	}
}

// Start begins background processing.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pipeline already running")
	}

	workers := p.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go p.runWorker(runCtx, i)
	}
	go p.runMaintenance(runCtx)

	p.logger.Info("pipeline started", logging.Int("workers", workers))
	return nil
}

// Stop terminates background processing and waits for workers to finish
// their current stage.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("pipeline stopped")
}

// Health reports the readiness of every stage handler.
func (p *Pipeline) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(p.steps))
	for _, step := range p.steps {
		out = append(out, step.handler.HealthCheck(ctx))
	}
	return out
}

func (p *Pipeline) noteClaimed() {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	if p.inFlight == 0 && p.drainProcessed == 0 && p.drainFailed == 0 {
		p.busySince = time.Now()
	}
	p.inFlight++
}

func (p *Pipeline) noteReleased() {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	p.inFlight--
}

func (p *Pipeline) noteCompleted() {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	p.drainProcessed++
}

func (p *Pipeline) noteFailed() {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	p.drainFailed++
}

// drainSnapshot reports and resets the work done since the queue was last
// idle. Returns ok only when no job is in flight and work was finished.
func (p *Pipeline) drainSnapshot() (processed, failed int, busy time.Duration, ok bool) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	if p.inFlight > 0 || (p.drainProcessed == 0 && p.drainFailed == 0) {
		return 0, 0, 0, false
	}
	processed, failed = p.drainProcessed, p.drainFailed
	busy = time.Since(p.busySince)
	p.drainProcessed, p.drainFailed = 0, 0
	return processed, failed, busy, true
}

// Orphaned workspaces younger than this survive the sweep; their job may
// have been claimed after the active-token snapshot was taken.
const orphanSweepGrace = 15 * time.Minute

// activeTokens snapshots the workspace tokens of every job that may still
// touch staging.
func (p *Pipeline) activeTokens(ctx context.Context) (map[string]struct{}, error) {
	jobs, err := p.store.List(ctx,
		queue.StatusQueued, queue.StatusFetching, queue.StatusTranscoding, queue.StatusDelivering)
	if err != nil {
		return nil, err
	}
	tokens := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		tokens[job.Token] = struct{}{}
	}
	return tokens, nil
}

// runMaintenance periodically reclaims stale in-flight jobs and sweeps
// abandoned staging workspaces.
func (p *Pipeline) runMaintenance(ctx context.Context) {
	defer p.wg.Done()
	logger := p.logger.With(logging.String(logging.FieldComponent, "pipeline-maintenance"))

	interval := p.heartbeat.heartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := p.heartbeat.ReclaimStaleJobs(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}

		maxAge := time.Duration(p.cfg.Pipeline.StagingMaxAgeHours) * time.Hour
		if maxAge > 0 {
			staging.CleanStale(ctx, p.cfg.Paths.StagingDir, maxAge, logger)
		}

		if tokens, err := p.activeTokens(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("active token snapshot failed; skipping orphan sweep",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		} else {
			staging.CleanOrphaned(ctx, p.cfg.Paths.StagingDir, tokens, orphanSweepGrace, logger)
		}
	}
}
