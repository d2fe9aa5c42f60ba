package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"snag/internal/queue"
	"snag/internal/services"
	"snag/internal/testsupport"
)

func TestSubmitAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.Submit(ctx, "https://example.com/video", "audio-mp3-192k", "chat:42")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Token == "" {
		t.Fatal("expected job token to be assigned")
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.SourceRef != "https://example.com/video" || fetched.RequesterContext != "chat:42" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	byToken, err := store.GetByToken(ctx, job.Token)
	if err != nil {
		t.Fatalf("GetByToken failed: %v", err)
	}
	if byToken == nil || byToken.ID != job.ID {
		t.Fatalf("expected to find job by token, got %#v", byToken)
	}
}

func TestSubmitRejectsWhenSaturated(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxPending(2))
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := store.Submit(ctx, fmt.Sprintf("https://example.com/%d", i), "audio-mp3-128k", ""); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	_, err := store.Submit(ctx, "https://example.com/overflow", "audio-mp3-128k", "")
	if !errors.Is(err, services.ErrQueueSaturated) {
		t.Fatalf("expected ErrQueueSaturated, got %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Queued != 2 {
		t.Fatalf("saturated submit must not persist anything, queued=%d", health.Queued)
	}
}

func TestSubmitCountsOnlyQueuedAgainstLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxPending(1))
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Submit(ctx, "https://example.com/a", "audio-mp3-128k", ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	// The claimed job is in flight, so a new submission fits under the limit.
	if _, err := store.Submit(ctx, "https://example.com/b", "audio-mp3-128k", ""); err != nil {
		t.Fatalf("Submit after claim failed: %v", err)
	}
}

func TestClaimNextDequeuesOldestExactlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.SubmitJob(t, store, "https://example.com/first", "audio-mp3-128k")
	testsupport.SubmitJob(t, store, "https://example.com/second", "audio-mp3-128k")

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job first, got %#v", claimed)
	}
	if claimed.Status != queue.StatusFetching {
		t.Fatalf("expected fetching status, got %s", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("expected attempts incremented to 1, got %d", claimed.Attempts)
	}

	second, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if second == nil || second.ID == claimed.ID {
		t.Fatalf("expected a different job, got %#v", second)
	}

	empty, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected empty queue, got %#v", empty)
	}
}

func TestRequeueMovesJobToBack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.SubmitJob(t, store, "https://example.com/first", "audio-mp3-128k")
	second := testsupport.SubmitJob(t, store, "https://example.com/second", "audio-mp3-128k")

	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected to claim first job: %#v err=%v", claimed, err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := store.Requeue(ctx, first.ID); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	next, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("requeued job must go to the back, got %#v", next)
	}
}

func TestRequestCancelQueuedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "https://example.com/video", "audio-mp3-128k")

	result, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if result != queue.CancelImmediate {
		t.Fatalf("expected immediate cancellation, got %s", result)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", updated.Status)
	}

	if claimed, err := store.ClaimNext(ctx); err != nil || claimed != nil {
		t.Fatalf("cancelled job must not be claimable: %#v err=%v", claimed, err)
	}
}

func TestUpdatePreservesPendingCancelFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SubmitJob(t, store, "https://example.com/video", "audio-mp3-128k")
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %#v err=%v", claimed, err)
	}

	result, err := store.RequestCancel(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if result != queue.CancelRequested {
		t.Fatalf("expected cooperative cancel, got %s", result)
	}

	// The worker's copy predates the cancel; persisting stage progress from
	// it must not clear the flag.
	claimed.Status = queue.StatusTranscoding
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	pending, err := store.CancelPending(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("CancelPending failed: %v", err)
	}
	if !pending {
		t.Fatal("cancel flag lost after stage update")
	}
}

func TestRequestCancelInFlightJobSetsFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "https://example.com/video", "audio-mp3-128k")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	result, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if result != queue.CancelRequested {
		t.Fatalf("expected cooperative cancel, got %s", result)
	}

	pending, err := store.CancelPending(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelPending failed: %v", err)
	}
	if !pending {
		t.Fatal("expected cancel flag set")
	}
}

func TestRequestCancelTerminalJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "https://example.com/video", "audio-mp3-128k")
	job.Status = queue.StatusCompleted
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	result, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if result != queue.CancelTerminal {
		t.Fatalf("expected already_finished, got %s", result)
	}

	missing, err := store.RequestCancel(ctx, 9999)
	if err != nil {
		t.Fatalf("RequestCancel missing failed: %v", err)
	}
	if missing != queue.CancelNotFound {
		t.Fatalf("expected not_found, got %s", missing)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	statuses := []queue.Status{queue.StatusFetching, queue.StatusTranscoding, queue.StatusDelivering}
	var ids []int64
	for i, status := range statuses {
		job := testsupport.SubmitJob(t, store, fmt.Sprintf("https://example.com/%d", i), "audio-mp3-128k")
		job.Status = status
		job.RawFile = "/staging/raw/file.bin"
		if err := store.Update(ctx, job); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		ids = append(ids, job.ID)
	}

	count, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if int(count) != len(statuses) {
		t.Fatalf("expected %d jobs reset, got %d", len(statuses), count)
	}

	for i, id := range ids {
		updated, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if updated.Status != queue.StatusQueued {
			t.Fatalf("%s: expected queued, got %s", statuses[i], updated.Status)
		}
		if updated.LastHeartbeat != nil {
			t.Fatalf("%s: expected heartbeat cleared", statuses[i])
		}
		if updated.RawFile != "" {
			t.Fatalf("%s: expected raw file cleared", statuses[i])
		}
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	stale := testsupport.SubmitJob(t, store, "https://example.com/stale", "audio-mp3-128k")
	past := time.Now().UTC().Add(-10 * time.Minute)
	stale.Status = queue.StatusTranscoding
	stale.LastHeartbeat = &past
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fresh := testsupport.SubmitJob(t, store, "https://example.com/fresh", "audio-mp3-128k")
	now := time.Now().UTC()
	fresh.Status = queue.StatusFetching
	fresh.LastHeartbeat = &now
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.ReclaimStaleProcessing(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job reclaimed, got %d", count)
	}

	reclaimed, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reclaimed.Status != queue.StatusQueued {
		t.Fatalf("expected stale job requeued, got %s", reclaimed.Status)
	}

	untouched, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if untouched.Status != queue.StatusFetching {
		t.Fatalf("fresh job must not be reclaimed, got %s", untouched.Status)
	}
}

func TestRetryFailedResetsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.SubmitJob(t, store, "https://example.com/video", "audio-mp3-128k")
	job.SetFailed("network_error", "connection reset")
	job.Attempts = 3
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job retried, got %d", count)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != queue.StatusQueued || updated.Attempts != 0 {
		t.Fatalf("expected requeued with fresh attempts, got %#v", updated)
	}
	if updated.ErrorKind != "" || updated.ErrorMessage != "" {
		t.Fatalf("expected error fields cleared, got %#v", updated)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SubmitJob(t, store, "https://example.com/a", "audio-mp3-128k")
	done := testsupport.SubmitJob(t, store, "https://example.com/b", "audio-mp3-128k")
	done.Status = queue.StatusCompleted
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Completed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}

	dbHealth, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !dbHealth.DatabaseExists || !dbHealth.TableExists || !dbHealth.IntegrityCheck {
		t.Fatalf("unexpected database health: %#v", dbHealth)
	}
}
