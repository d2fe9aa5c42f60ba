package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"snag/internal/config"
	"snag/internal/logging"
	"snag/internal/presets"
	"snag/internal/queue"
	"snag/internal/services"
	"snag/internal/services/ffmpeg"
	"snag/internal/stage"
	"snag/internal/staging"
	"snag/internal/textutil"
)

// Transcoder converts the fetched artifact into the requested preset output.
type Transcoder struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
	client ffmpeg.Transcoder
}

// NewTranscoder constructs the transcode stage handler using default dependencies.
func NewTranscoder(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Transcoder, error) {
	client, err := ffmpeg.New(cfg.Transcode.FFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("construct toolchain client: %w", err)
	}
	return NewTranscoderWithDependencies(cfg, store, logger, client), nil
}

// NewTranscoderWithDependencies allows injecting collaborators (used in tests).
func NewTranscoderWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, client ffmpeg.Transcoder) *Transcoder {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "transcoder"))
	}
	return &Transcoder{store: store, cfg: cfg, logger: stageLogger, client: client}
}

func (t *Transcoder) Prepare(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, t.logger)
	if _, ok := presets.Lookup(job.Preset); !ok {
		return services.Wrap(services.ErrUnsupportedCodec, "transcoding", "select preset",
			fmt.Sprintf("Preset %q is not in the output table", job.Preset), nil)
	}
	logger.Info("starting transcode", logging.String("preset", job.Preset))
	return nil
}

func (t *Transcoder) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, t.logger)

	preset, ok := presets.Lookup(job.Preset)
	if !ok {
		return services.Wrap(services.ErrUnsupportedCodec, "transcoding", "select preset",
			fmt.Sprintf("Preset %q is not in the output table", job.Preset), nil)
	}

	rawFile := strings.TrimSpace(job.RawFile)
	if rawFile == "" {
		return services.Wrap(services.ErrToolchain, "transcoding", "validate inputs",
			"No fetched artifact present for transcoding", nil)
	}
	info, err := os.Stat(rawFile)
	if err != nil {
		return services.Wrap(services.ErrToolchain, "transcoding", "validate inputs",
			"Fetched artifact missing from staging", err)
	}

	workspace, err := staging.NewWorkspace(t.cfg.Paths.StagingDir, job.Token)
	if err != nil {
		return services.Wrap(services.ErrToolchain, "transcoding", "derive workspace",
			"Staging workspace could not be derived", err)
	}
	outputPath := filepath.Join(workspace.OutDir(), outputName(job, preset))

	timeout := t.deadlineFor(info.Size())
	logger.Info("invoking toolchain",
		logging.String("raw_file", rawFile),
		logging.String("output", outputPath),
		logging.Duration("timeout", timeout),
	)

	if err := t.client.Transcode(ctx, workspace.Root, preset.Args(rawFile, outputPath), timeout); err != nil {
		// Partial outputs are never delivered.
		_ = os.Remove(outputPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "transcoding", "run toolchain",
				fmt.Sprintf("Transcode exceeded its %s deadline and was killed", timeout), err)
		}
		return classifyToolchainError(err)
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil || outInfo.Size() == 0 {
		_ = os.Remove(outputPath)
		return services.Wrap(services.ErrToolchain, "transcoding", "verify output",
			"Toolchain reported success but produced no output", err)
	}

	job.OutputFile = outputPath
	logger.Info("transcode completed",
		logging.String("output", outputPath),
		logging.Int64("size_bytes", outInfo.Size()),
	)
	return nil
}

// deadlineFor scales the transcode deadline with staged input size so large
// artifacts get proportionally more time than the configured floor.
func (t *Transcoder) deadlineFor(sizeBytes int64) time.Duration {
	base := time.Duration(t.cfg.Transcode.BaseTimeout) * time.Second
	per := time.Duration(t.cfg.Transcode.TimeoutPer100MiB) * time.Second
	if per <= 0 {
		return base
	}
	chunks := sizeBytes / (100 << 20)
	return base + time.Duration(chunks)*per
}

func classifyToolchainError(err error) error {
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "invalid data found"),
		strings.Contains(message, "could not find codec parameters"),
		strings.Contains(message, "unknown format"):
		return services.Wrap(services.ErrUnsupportedFormat, "transcoding", "run toolchain",
			"Fetched artifact is not in a processable format", err)
	case strings.Contains(message, "unknown encoder"),
		strings.Contains(message, "encoder not found"):
		return services.Wrap(services.ErrUnsupportedCodec, "transcoding", "run toolchain",
			"Toolchain build lacks the encoder this preset requires", err)
	default:
		return services.Wrap(services.ErrToolchain, "transcoding", "run toolchain",
			"Toolchain exited with an error", err)
	}
}

func outputName(job *queue.Job, preset presets.Preset) string {
	title := textutil.SanitizeFileName(job.DisplayTitle)
	if title == "" {
		title = "output"
	}
	return title + "." + preset.Container
}

// HealthCheck verifies transcode prerequisites.
func (t *Transcoder) HealthCheck(ctx context.Context) stage.Health {
	const name = "transcoder"
	if t.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if _, err := exec.LookPath(t.cfg.Transcode.FFmpegBinary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("toolchain binary %q not found in PATH", t.cfg.Transcode.FFmpegBinary))
	}
	return stage.Healthy(name)
}
