package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"snag/internal/api"
)

func runCommand(t *testing.T, server *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--server", server.URL))
	err := cmd.Execute()
	return out.String(), err
}

func jsonHandler(t *testing.T, wantMethod, wantPath string, payload any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != wantMethod || r.URL.Path != wantPath {
			t.Errorf("unexpected request %s %s, want %s %s", r.Method, r.URL.Path, wantMethod, wantPath)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func TestSubmitCommandPostsJob(t *testing.T) {
	var received api.SubmitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode submit request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.Job{
			ID: 42, SourceRef: received.SourceRef, Preset: received.Preset, Status: "queued",
		}})
	}))
	defer server.Close()

	out, err := runCommand(t, server, "submit", "https://example.com/video", "--preset", "audio-mp3-128k")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if received.Preset != "audio-mp3-128k" {
		t.Fatalf("unexpected submitted preset %q", received.Preset)
	}
	if !strings.Contains(out, "Queued job 42") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSubmitCommandSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "queue saturated: 16 jobs already queued (limit 16)"})
	}))
	defer server.Close()

	_, err := runCommand(t, server, "submit", "https://example.com/video", "--preset", "audio-mp3-128k")
	if err == nil || !strings.Contains(err.Error(), "queue saturated") {
		t.Fatalf("expected saturation error, got %v", err)
	}
}

func TestQueueListRendersJobs(t *testing.T) {
	payload := api.JobListResponse{Jobs: []api.Job{
		{ID: 1, SourceRef: "https://example.com/a", Preset: "audio-mp3-128k", Status: "queued", DisplayTitle: "First Clip"},
		{ID: 2, SourceRef: "https://example.com/b", Preset: "video-h264-720p", Status: "failed", ErrorKind: "network_error", ErrorMessage: "connection reset"},
	}}
	server := httptest.NewServer(jsonHandler(t, http.MethodGet, "/api/jobs", payload))
	defer server.Close()

	out, err := runCommand(t, server, "queue", "list")
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	if !strings.Contains(out, "First Clip") || !strings.Contains(out, "network_error") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestQueueListJSONOutput(t *testing.T) {
	payload := api.JobListResponse{Jobs: []api.Job{
		{ID: 9, SourceRef: "https://example.com/c", Preset: "audio-opus-96k", Status: "completed"},
	}}
	server := httptest.NewServer(jsonHandler(t, http.MethodGet, "/api/jobs", payload))
	defer server.Close()

	out, err := runCommand(t, server, "queue", "list", "--json")
	if err != nil {
		t.Fatalf("queue list --json failed: %v", err)
	}
	var jobs []api.Job
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if len(jobs) != 1 || jobs[0].ID != 9 {
		t.Fatalf("unexpected decoded jobs %#v", jobs)
	}
}

func TestQueueListEmpty(t *testing.T) {
	server := httptest.NewServer(jsonHandler(t, http.MethodGet, "/api/jobs", api.JobListResponse{}))
	defer server.Close()

	out, err := runCommand(t, server, "queue", "list")
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCancelCommandReportsCooperativeCancel(t *testing.T) {
	server := httptest.NewServer(jsonHandler(t, http.MethodDelete, "/api/jobs/7", api.CancelResponse{Result: "requested"}))
	defer server.Close()

	out, err := runCommand(t, server, "cancel", "7")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !strings.Contains(out, "stage boundary") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestPresetsCommandRendersTable(t *testing.T) {
	payload := api.PresetListResponse{Presets: []api.Preset{
		{Name: "audio-mp3-128k", Kind: "audio", Container: "mp3", Description: "128 kbit/s MP3 audio"},
	}}
	server := httptest.NewServer(jsonHandler(t, http.MethodGet, "/api/presets", payload))
	defer server.Close()

	out, err := runCommand(t, server, "presets")
	if err != nil {
		t.Fatalf("presets failed: %v", err)
	}
	if !strings.Contains(out, "audio-mp3-128k") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestQueueHealthCommand(t *testing.T) {
	payload := api.QueueHealth{Total: 5, Queued: 1, Processing: 1, Completed: 2, Failed: 1}
	server := httptest.NewServer(jsonHandler(t, http.MethodGet, "/api/queue/health", payload))
	defer server.Close()

	out, err := runCommand(t, server, "queue", "health")
	if err != nil {
		t.Fatalf("queue health failed: %v", err)
	}
	if !strings.Contains(out, "Total: 5") || !strings.Contains(out, "Failed: 1") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.JobListResponse{})
	}))
	defer server.Close()

	if _, err := runCommand(t, server, "queue", "list", "--token", "sekrit"); err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	if gotAuth != "Bearer sekrit" {
		t.Fatalf("expected bearer token header, got %q", gotAuth)
	}
}

func TestClientRequiresServerAddress(t *testing.T) {
	client, err := newAPIClient("   ", "")
	if err == nil {
		t.Fatalf("expected error for blank address, got client %#v", client)
	}
}
