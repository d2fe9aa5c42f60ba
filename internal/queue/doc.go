// Package queue persists acquisition jobs in SQLite and mediates every
// lifecycle transition.
//
// The jobs table is the single source of truth for ordering, backpressure,
// worker claims, cooperative cancellation, and crash recovery. Workers never
// share in-memory job state; they claim rows with a guarded UPDATE so each
// queued job is handed out exactly once.
package queue
