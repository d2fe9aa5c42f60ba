package main

import (
	"fmt"
	"time"

	"snag/internal/api"
)

const displayTimeFormat = "2006-01-02 15:04"

func formatTimestamp(value string) string {
	if value == "" {
		return "-"
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return parsed.Local().Format(displayTimeFormat)
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

func jobTitle(job api.Job) string {
	if job.DisplayTitle != "" {
		return job.DisplayTitle
	}
	return job.SourceRef
}

func jobError(job api.Job) string {
	if job.ErrorKind == "" {
		return ""
	}
	if job.ErrorMessage == "" {
		return job.ErrorKind
	}
	return fmt.Sprintf("%s: %s", job.ErrorKind, job.ErrorMessage)
}
