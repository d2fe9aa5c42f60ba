// Package logging constructs the process-wide slog logger and provides the
// attribute and context helpers shared by every component.
//
// Two output formats are supported: a console handler that promotes the
// component attribute into the message prefix for human operators, and a
// plain JSON handler for machine collection. Standardized field keys
// (job_id, stage, correlation_id, event_type) keep records filterable across
// the pipeline.
package logging
