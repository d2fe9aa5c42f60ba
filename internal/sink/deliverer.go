package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"snag/internal/config"
	"snag/internal/fileutil"
	"snag/internal/logging"
	"snag/internal/queue"
	"snag/internal/services"
	"snag/internal/stage"
	"snag/internal/textutil"
)

// Deliverer moves transcoded files into the final output location.
type Deliverer struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
}

var titleCaser = cases.Title(language.Und, cases.NoLower)

// NewDeliverer constructs the delivery stage handler.
func NewDeliverer(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Deliverer {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "deliverer"))
	}
	return &Deliverer{store: store, cfg: cfg, logger: stageLogger}
}

func (d *Deliverer) Prepare(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, d.logger)
	if strings.TrimSpace(job.OutputFile) == "" {
		return services.Wrap(services.ErrDelivery, "delivering", "validate inputs",
			"No transcoded output present for delivery", nil)
	}
	logger.Info("starting delivery", logging.String("output_file", job.OutputFile))
	return nil
}

func (d *Deliverer) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, d.logger)

	outputDir := strings.TrimSpace(d.cfg.Paths.OutputDir)
	if outputDir == "" {
		return services.Wrap(services.ErrDelivery, "delivering", "resolve output dir",
			"Output directory not configured; set output_dir in your snag config.toml", nil)
	}
	// Each requester gets its own subdirectory in the output library.
	if requester := textutil.SanitizeFileName(job.RequesterContext); requester != "" {
		outputDir = filepath.Join(outputDir, requester)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return services.Wrap(services.ErrDelivery, "delivering", "ensure output dir",
			"Failed to create output directory", err)
	}

	target, err := d.nextDeliveryPath(outputDir, deliveredName(job))
	if err != nil {
		return services.Wrap(services.ErrDelivery, "delivering", "allocate filename",
			"Unable to allocate delivery filename", err)
	}

	attempts := 1 + d.cfg.Delivery.Retries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = fileutil.MoveFile(job.OutputFile, target)
		if lastErr == nil {
			break
		}
		logger.Warn("delivery attempt failed",
			logging.Int("attempt", attempt),
			logging.Error(lastErr),
		)
	}
	if lastErr != nil {
		return services.Wrap(services.ErrDelivery, "delivering", "move output",
			"Failed to move output into the delivery directory", lastErr)
	}

	job.OutputFile = target
	logger.Info("delivery completed", logging.String("final_file", target))
	return nil
}

// nextDeliveryPath finds a free filename, suffixing a counter on collision.
func (d *Deliverer) nextDeliveryPath(dir, name string) (string, error) {
	const maxAttempts = 10000
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if _, err := os.Stat(candidate); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return candidate, nil
			}
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, attempt, ext))
	}
	return "", fmt.Errorf("exhausted delivery filename slots in %s", dir)
}

func deliveredName(job *queue.Job) string {
	ext := filepath.Ext(job.OutputFile)
	title := textutil.SanitizeFileName(job.DisplayTitle)
	if title == "" {
		title = fmt.Sprintf("snag-job-%d", job.ID)
	} else {
		title = titleCaser.String(title)
	}
	return title + ext
}

// HealthCheck verifies delivery prerequisites.
func (d *Deliverer) HealthCheck(ctx context.Context) stage.Health {
	const name = "deliverer"
	if d.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Paths.OutputDir) == "" {
		return stage.Unhealthy(name, "output directory not configured")
	}
	return stage.Healthy(name)
}
