package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"snag/internal/config"
)

const userAgent = "Snag/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobCompleted(ctx context.Context, title, outputFile string) error
	NotifyJobFailed(ctx context.Context, title, kind, message string) error
	NotifyQueueSaturated(ctx context.Context, pending int) error
	NotifyQueueDrained(ctx context.Context, processed, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint:     topic,
		client:       client,
		jobCompleted: cfg.Notifications.JobCompleted,
		jobFailed:    cfg.Notifications.JobFailed,
		queueAlerts:  cfg.Notifications.QueueAlerts,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	jobCompleted bool
	jobFailed    bool
	queueAlerts  bool
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, title, outputFile string) error {
	if !n.jobCompleted {
		return nil
	}
	title = strings.TrimSpace(title)
	outputFile = strings.TrimSpace(outputFile)
	message := fmt.Sprintf("Download ready: %s", title)
	if outputFile != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, outputFile)
	}
	data := payload{
		title:   "Snag - Complete",
		message: message,
		tags:    []string{"snag", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, title, kind, message string) error {
	if !n.jobFailed {
		return nil
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "unknown source"
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "Download failed: %s", title)
	if kind = strings.TrimSpace(kind); kind != "" {
		fmt.Fprintf(&builder, " (%s)", kind)
	}
	if message = strings.TrimSpace(message); message != "" {
		builder.WriteString("\n")
		builder.WriteString(message)
	}
	data := payload{
		title:    "Snag - Failed",
		message:  builder.String(),
		tags:     []string{"snag", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueSaturated(ctx context.Context, pending int) error {
	if !n.queueAlerts {
		return nil
	}
	data := payload{
		title:    "Snag - Queue Saturated",
		message:  fmt.Sprintf("Queue is full with %d pending jobs; new submissions are being rejected", pending),
		tags:     []string{"snag", "queue", "saturated"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, processed, failed int, duration time.Duration) error {
	if !n.queueAlerts {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title, message string
	if failed == 0 {
		title = "Snag - Queue Drained"
		message = fmt.Sprintf("Queue drained: %d jobs processed in %s", processed, durationText)
	} else {
		title = "Snag - Queue Drained (with errors)"
		message = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", processed, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"snag", "queue", "drained"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Snag - Test",
		message:  "Notification system test",
		tags:     []string{"snag", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, string) error              { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error         { return nil }
func (noopService) NotifyQueueSaturated(context.Context, int) error                       { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int, time.Duration) error     { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }
