package notifications

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"snag/internal/testsupport"
)

type recordedRequest struct {
	title    string
	priority string
	body     string
}

func newRecordingServer(t *testing.T, sink *[]recordedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*sink = append(*sink, recordedRequest{
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNewServiceReturnsNoopWithoutTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	service := NewService(cfg)
	if _, ok := service.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", service)
	}
	if err := service.NotifyJobCompleted(context.Background(), "t", "f"); err != nil {
		t.Fatalf("noop must not error: %v", err)
	}
}

func TestNotifyJobCompletedSendsTitleAndFile(t *testing.T) {
	var requests []recordedRequest
	server := newRecordingServer(t, &requests)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobCompleted = true
	service := NewService(cfg)

	if err := service.NotifyJobCompleted(context.Background(), "My Clip", "My Clip.mp3"); err != nil {
		t.Fatalf("NotifyJobCompleted failed: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0].title != "Snag - Complete" {
		t.Fatalf("unexpected title %q", requests[0].title)
	}
	if !strings.Contains(requests[0].body, "My Clip.mp3") {
		t.Fatalf("expected file in body, got %q", requests[0].body)
	}
}

func TestNotifyJobFailedRespectsToggle(t *testing.T) {
	var requests []recordedRequest
	server := newRecordingServer(t, &requests)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobFailed = false
	service := NewService(cfg)

	if err := service.NotifyJobFailed(context.Background(), "Clip", "network_error", "boom"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
	if len(requests) != 0 {
		t.Fatalf("disabled event must not send, got %d requests", len(requests))
	}

	cfg.Notifications.JobFailed = true
	service = NewService(cfg)
	if err := service.NotifyJobFailed(context.Background(), "Clip", "network_error", "boom"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
	if len(requests) != 1 || requests[0].priority != "high" {
		t.Fatalf("expected one high-priority request, got %#v", requests)
	}
}

func TestSendSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	service := NewService(cfg)

	if err := service.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
