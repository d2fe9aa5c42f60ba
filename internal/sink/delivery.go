package sink

import (
	"context"

	"log/slog"

	"snag/internal/logging"
	"snag/internal/notifications"
	"snag/internal/queue"
)

// Delivery receives exactly one terminal callback per finished job. Cancelled
// jobs receive neither.
type Delivery interface {
	OnComplete(ctx context.Context, job *queue.Job) error
	OnFailure(ctx context.Context, job *queue.Job) error
}

// NotifyingDelivery reports terminal outcomes to the notifier and the log.
type NotifyingDelivery struct {
	logger   *slog.Logger
	notifier notifications.Service
}

// NewNotifyingDelivery constructs the default delivery callback handler.
func NewNotifyingDelivery(logger *slog.Logger, notifier notifications.Service) *NotifyingDelivery {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NotifyingDelivery{logger: logger, notifier: notifier}
}

func (d *NotifyingDelivery) OnComplete(ctx context.Context, job *queue.Job) error {
	d.logger.Info("job completed",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("title", job.DisplayTitle),
		logging.String("final_file", job.OutputFile),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	if d.notifier == nil {
		return nil
	}
	title := job.DisplayTitle
	if title == "" {
		title = job.SourceRef
	}
	return d.notifier.NotifyJobCompleted(ctx, title, job.OutputFile)
}

func (d *NotifyingDelivery) OnFailure(ctx context.Context, job *queue.Job) error {
	d.logger.Error("job failed",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("title", job.DisplayTitle),
		logging.String(logging.FieldErrorKind, job.ErrorKind),
		logging.String("error_message", job.ErrorMessage),
		logging.String(logging.FieldEventType, "job_failed"),
	)
	if d.notifier == nil {
		return nil
	}
	title := job.DisplayTitle
	if title == "" {
		title = job.SourceRef
	}
	return d.notifier.NotifyJobFailed(ctx, title, job.ErrorKind, job.ErrorMessage)
}
