package ffmpeg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubExecutor struct {
	lines     []string
	err       error
	gotDir    string
	gotBinary string
	gotArgs   []string
	blockCtx  bool
}

func (s *stubExecutor) Run(ctx context.Context, dir, binary string, args []string, onLine func(string)) error {
	s.gotDir = dir
	s.gotBinary = binary
	s.gotArgs = args
	for _, line := range s.lines {
		onLine(line)
	}
	if s.blockCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

func TestTranscodeSuccess(t *testing.T) {
	exec := &stubExecutor{}
	client, err := New("ffmpeg", WithExecutor(exec))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	args := []string{"-i", "in.webm", "out.mp4"}
	if err := client.Transcode(context.Background(), "/staging/job-1", args, time.Minute); err != nil {
		t.Fatalf("Transcode failed: %v", err)
	}
	if exec.gotBinary != "ffmpeg" || len(exec.gotArgs) != 3 {
		t.Fatalf("unexpected invocation: %s %v", exec.gotBinary, exec.gotArgs)
	}
	if exec.gotDir != "/staging/job-1" {
		t.Fatalf("working directory not pinned, got %q", exec.gotDir)
	}
}

func TestTranscodeRequiresArgs(t *testing.T) {
	client, err := New("ffmpeg", WithExecutor(&stubExecutor{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := client.Transcode(context.Background(), "/staging/job-1", nil, time.Minute); err == nil {
		t.Fatal("expected error for empty args")
	}
}

func TestTranscodeTimeoutWrapsDeadlineExceeded(t *testing.T) {
	client, err := New("ffmpeg", WithExecutor(&stubExecutor{blockCtx: true}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = client.Transcode(context.Background(), "/staging/job-1", []string{"-i", "in"}, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTranscodeIncludesStderrTail(t *testing.T) {
	boom := errors.New("exit status 1")
	exec := &stubExecutor{
		lines: []string{"frame=  100", "Error while decoding stream #0:1", "Conversion failed!"},
		err:   boom,
	}
	client, err := New("ffmpeg", WithExecutor(exec))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = client.Transcode(context.Background(), "/staging/job-1", []string{"-i", "in"}, time.Minute)
	if !errors.Is(err, boom) {
		t.Fatalf("expected executor error, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "Conversion failed!") {
		t.Fatalf("expected stderr tail in error, got %q", got)
	}
}
