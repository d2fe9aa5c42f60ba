package deps

import (
	"os"
	"path/filepath"
	"testing"

	"snag/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatal("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatal("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
}

func TestCheckBinariesUnconfiguredCommand(t *testing.T) {
	results := CheckBinaries([]Requirement{{Name: "Blank", Command: "   "}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Available {
		t.Fatal("blank command must not be available")
	}
	if results[0].Detail != "command not configured" {
		t.Fatalf("unexpected detail %q", results[0].Detail)
	}
}

func TestForConfigCoversToolchain(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFmpegBinary = "ffmpeg"
	cfg.Fetch.ResolverBinary = "yt-dlp"

	reqs := ForConfig(cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(reqs))
	}
	if reqs[0].Command != "ffmpeg" || reqs[1].Command != "yt-dlp" {
		t.Fatalf("unexpected requirement commands: %#v", reqs)
	}
	for _, req := range reqs {
		if req.Optional {
			t.Fatalf("toolchain binaries are required, got optional %q", req.Name)
		}
	}
}

func TestMissingRequired(t *testing.T) {
	statuses := []Status{
		{Name: "A", Available: true},
		{Name: "B", Available: false},
		{Name: "C", Available: false, Optional: true},
	}
	missing := MissingRequired(statuses)
	if len(missing) != 1 || missing[0] != "B" {
		t.Fatalf("expected only B missing, got %v", missing)
	}
}
