package config

import (
	"errors"
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	pathFields := []struct {
		name  string
		value *string
	}{
		{"staging_dir", &c.Paths.StagingDir},
		{"output_dir", &c.Paths.OutputDir},
		{"log_dir", &c.Paths.LogDir},
	}
	for _, field := range pathFields {
		expanded, err := expandPath(*field.value)
		if err != nil {
			return fmt.Errorf("normalize %s: %w", field.name, err)
		}
		*field.value = expanded
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Fetch.ResolverBinary = strings.TrimSpace(c.Fetch.ResolverBinary)
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Transcode.FFmpegBinary = strings.TrimSpace(c.Transcode.FFmpegBinary)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// Validate checks configuration invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.StagingDir == "" {
		problems = append(problems, "paths.staging_dir must not be empty")
	}
	if c.Paths.LogDir == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Queue.MaxPending <= 0 {
		problems = append(problems, "queue.max_pending must be positive")
	}
	if c.Pipeline.Workers <= 0 {
		problems = append(problems, "pipeline.workers must be positive")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		problems = append(problems, "pipeline.max_attempts must be positive")
	}
	if c.Pipeline.QueuePollInterval <= 0 {
		problems = append(problems, "pipeline.queue_poll_interval must be positive")
	}
	if c.Fetch.TransferTimeout <= 0 {
		problems = append(problems, "fetch.transfer_timeout must be positive")
	}
	if c.Fetch.MaxArtifactMiB <= 0 {
		problems = append(problems, "fetch.max_artifact_mib must be positive")
	}
	if c.Transcode.FFmpegBinary == "" {
		problems = append(problems, "transcode.ffmpeg_binary must not be empty")
	}
	if c.Transcode.BaseTimeout <= 0 {
		problems = append(problems, "transcode.base_timeout must be positive")
	}
	if c.Delivery.Retries < 0 {
		problems = append(problems, "delivery.retries must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
