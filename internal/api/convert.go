package api

import (
	"snag/internal/deps"
	"snag/internal/presets"
	"snag/internal/queue"
	"snag/internal/stage"
)

// FromJob converts a queue record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}

	dto := Job{
		ID:               job.ID,
		Token:            job.Token,
		SourceRef:        job.SourceRef,
		Preset:           job.Preset,
		RequesterContext: job.RequesterContext,
		Status:           string(job.Status),
		Attempts:         job.Attempts,
		ErrorKind:        job.ErrorKind,
		ErrorMessage:     job.ErrorMessage,
		OutputFile:       job.OutputFile,
		DisplayTitle:     job.DisplayTitle,
		CancelRequested:  job.CancelRequested,
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.QueuedAt.IsZero() {
		dto.QueuedAt = job.QueuedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromJobs converts a slice of queue records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStageHealth converts stage readiness records to API payloads.
func FromStageHealth(health []stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromDependencyStatuses converts binary availability records to API payloads.
func FromDependencyStatuses(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, DependencyStatus{
			Name:        status.Name,
			Command:     status.Command,
			Description: status.Description,
			Optional:    status.Optional,
			Available:   status.Available,
			Detail:      status.Detail,
		})
	}
	return out
}

// FromPresets converts the closed preset table to API payloads.
func FromPresets(table []presets.Preset) []Preset {
	if len(table) == 0 {
		return nil
	}
	out := make([]Preset, 0, len(table))
	for _, p := range table {
		out = append(out, Preset{
			Name:        p.Name,
			Kind:        string(p.Kind),
			Container:   p.Container,
			Description: p.Description,
		})
	}
	return out
}

// FromHealthSummary converts queue diagnostics to the API payload.
func FromHealthSummary(summary queue.HealthSummary) QueueHealth {
	return QueueHealth{
		Total:      summary.Total,
		Queued:     summary.Queued,
		Processing: summary.Processing,
		Completed:  summary.Completed,
		Failed:     summary.Failed,
		Cancelled:  summary.Cancelled,
	}
}

// MergeQueueStats normalizes stats so every known status has an entry.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	merged := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		merged[string(status)] = 0
	}
	for status, count := range stats {
		merged[string(status)] = count
	}
	return merged
}
