package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewWorkspaceRejectsEmptyInputs(t *testing.T) {
	if _, err := NewWorkspace("", "token"); err == nil {
		t.Fatal("expected error for empty staging dir")
	}
	if _, err := NewWorkspace(t.TempDir(), "  "); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestWorkspaceEnsureAndRemove(t *testing.T) {
	stagingDir := t.TempDir()
	ws, err := NewWorkspace(stagingDir, "abc-123")
	if err != nil {
		t.Fatalf("NewWorkspace failed: %v", err)
	}
	if err := ws.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	for _, dir := range []string{ws.Root, ws.RawDir(), ws.OutDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}

	if err := os.WriteFile(filepath.Join(ws.RawDir(), "artifact.bin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Fatal("workspace should be gone after Remove")
	}
}

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	stagingDir := t.TempDir()

	oldDir := filepath.Join(stagingDir, "job-old")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	freshDir := filepath.Join(stagingDir, "job-fresh")
	if err := os.MkdirAll(freshDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	result := CleanStale(context.Background(), stagingDir, 24*time.Hour, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("expected only old dir removed, got %v", result.Removed)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Fatalf("fresh dir should survive: %v", err)
	}
}

func TestCleanStaleEmptyStagingDir(t *testing.T) {
	result := CleanStale(context.Background(), "", time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected no-op, got %#v", result)
	}
}

func TestCleanOrphanedKeepsActiveTokens(t *testing.T) {
	stagingDir := t.TempDir()
	for _, name := range []string{"job-active", "job-orphan"} {
		if err := os.MkdirAll(filepath.Join(stagingDir, name), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	active := map[string]struct{}{"active": {}}
	result := CleanOrphaned(context.Background(), stagingDir, active, 0, nil)
	if len(result.Removed) != 1 || filepath.Base(result.Removed[0]) != "job-orphan" {
		t.Fatalf("expected orphan removed, got %v", result.Removed)
	}
	if _, err := os.Stat(filepath.Join(stagingDir, "job-active")); err != nil {
		t.Fatalf("active workspace should survive: %v", err)
	}
}

func TestCleanOrphanedSparesRecentDirectories(t *testing.T) {
	stagingDir := t.TempDir()

	fresh := filepath.Join(stagingDir, "job-fresh")
	if err := os.MkdirAll(fresh, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	settled := filepath.Join(stagingDir, "job-settled")
	if err := os.MkdirAll(settled, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(settled, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := CleanOrphaned(context.Background(), stagingDir, nil, 15*time.Minute, nil)
	if len(result.Removed) != 1 || result.Removed[0] != settled {
		t.Fatalf("expected only settled orphan removed, got %v", result.Removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh workspace should outlast the grace window: %v", err)
	}
}
