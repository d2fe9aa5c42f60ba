package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is a per-job scratch area under the staging root. Every byte a
// job writes before delivery lives here, so removing the directory is the
// complete cleanup for that job.
type Workspace struct {
	Root string
}

// NewWorkspace derives the scratch directory for a job token. The token is a
// generated UUID, never requester text, so it is safe as a path segment.
func NewWorkspace(stagingDir, token string) (Workspace, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return Workspace{}, fmt.Errorf("staging dir is empty")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Workspace{}, fmt.Errorf("job token is empty")
	}
	return Workspace{Root: filepath.Join(stagingDir, "job-"+token)}, nil
}

// Ensure creates the workspace directories.
func (w Workspace) Ensure() error {
	for _, dir := range []string{w.Root, w.RawDir(), w.OutDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create staging dir %s: %w", dir, err)
		}
	}
	return nil
}

// RawDir holds the fetched artifact before transcoding.
func (w Workspace) RawDir() string {
	return filepath.Join(w.Root, "raw")
}

// OutDir holds the transcoded artifact before delivery.
func (w Workspace) OutDir() string {
	return filepath.Join(w.Root, "out")
}

// Remove deletes the workspace and everything in it.
func (w Workspace) Remove() error {
	if strings.TrimSpace(w.Root) == "" {
		return nil
	}
	return os.RemoveAll(w.Root)
}
