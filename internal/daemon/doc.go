// Package daemon wires the queue store, the processing pipeline, and the
// HTTP API into a single-instance background service guarded by a lock file.
package daemon
