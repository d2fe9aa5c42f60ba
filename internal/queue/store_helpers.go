package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, token, source_ref, preset, requester_context, status, attempts, error_kind, error_message, raw_file, output_file, display_title, created_at, updated_at, queued_at, last_heartbeat, cancel_requested"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               int64
		token            string
		sourceRef        string
		preset           string
		requesterContext sql.NullString
		statusStr        string
		attempts         int
		errorKind        sql.NullString
		errorMessage     sql.NullString
		rawFile          sql.NullString
		outputFile       sql.NullString
		displayTitle     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		queuedRaw        sql.NullString
		lastHeartbeatRaw sql.NullString
		cancelRequested  sql.NullInt64
	)

	if err := scanner.Scan(
		&id,
		&token,
		&sourceRef,
		&preset,
		&requesterContext,
		&statusStr,
		&attempts,
		&errorKind,
		&errorMessage,
		&rawFile,
		&outputFile,
		&displayTitle,
		&createdRaw,
		&updatedRaw,
		&queuedRaw,
		&lastHeartbeatRaw,
		&cancelRequested,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:               id,
		Token:            token,
		SourceRef:        sourceRef,
		Preset:           preset,
		RequesterContext: requesterContext.String,
		Status:           Status(statusStr),
		Attempts:         attempts,
		ErrorKind:        errorKind.String,
		ErrorMessage:     errorMessage.String,
		RawFile:          rawFile.String,
		OutputFile:       outputFile.String,
		DisplayTitle:     displayTitle.String,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if queued, err := parseTimeString(queuedRaw.String); err == nil {
		job.QueuedAt = queued
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
