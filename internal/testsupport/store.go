package testsupport

import (
	"context"
	"testing"

	"snag/internal/config"
	"snag/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SubmitJob enqueues a job for tests using the provided store.
func SubmitJob(t testing.TB, store *queue.Store, sourceRef, preset string) *queue.Job {
	t.Helper()

	job, err := store.Submit(context.Background(), sourceRef, preset, "")
	if err != nil {
		t.Fatalf("store.Submit: %v", err)
	}
	return job
}
