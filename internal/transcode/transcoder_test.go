package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"snag/internal/config"
	"snag/internal/logging"
	"snag/internal/queue"
	"snag/internal/services"
	"snag/internal/staging"
	"snag/internal/testsupport"
)

type stubTranscoder struct {
	err       error
	gotDir    string
	gotArgs   []string
	gotLimit  time.Duration
	writeOut  bool
	outputArg func(args []string) string
}

func (s *stubTranscoder) Transcode(ctx context.Context, workDir string, args []string, timeout time.Duration) error {
	s.gotDir = workDir
	s.gotArgs = args
	s.gotLimit = timeout
	if s.writeOut {
		output := args[len(args)-1]
		if s.outputArg != nil {
			output = s.outputArg(args)
		}
		if err := os.WriteFile(output, []byte("transcoded"), 0o644); err != nil {
			return err
		}
	}
	return s.err
}

func newStagedJob(t *testing.T, cfg *config.Config, store *queue.Store, preset string) *queue.Job {
	t.Helper()
	job := testsupport.SubmitJob(t, store, "https://example.com/video", preset)
	job.DisplayTitle = "My Clip"

	workspace, err := staging.NewWorkspace(cfg.Paths.StagingDir, job.Token)
	if err != nil {
		t.Fatalf("NewWorkspace failed: %v", err)
	}
	if err := workspace.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	raw := filepath.Join(workspace.RawDir(), "artifact.webm")
	testsupport.WriteFile(t, raw, 2048)
	job.RawFile = raw
	return job
}

func TestExecuteProducesOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	client := &stubTranscoder{writeOut: true}
	transcoder := NewTranscoderWithDependencies(cfg, store, logging.NewNop(), client)

	job := newStagedJob(t, cfg, store, "audio-mp3-128k")
	ctx := context.Background()
	if err := transcoder.Prepare(ctx, job); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := transcoder.Execute(ctx, job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if job.OutputFile == "" {
		t.Fatal("expected output file recorded")
	}
	if filepath.Base(job.OutputFile) != "My Clip.mp3" {
		t.Fatalf("unexpected output name %q", filepath.Base(job.OutputFile))
	}
	if len(client.gotArgs) == 0 || client.gotArgs[len(client.gotArgs)-1] != job.OutputFile {
		t.Fatalf("expected output path as final arg: %v", client.gotArgs)
	}

	workspace, err := staging.NewWorkspace(cfg.Paths.StagingDir, job.Token)
	if err != nil {
		t.Fatalf("NewWorkspace failed: %v", err)
	}
	if client.gotDir != workspace.Root {
		t.Fatalf("toolchain cwd not pinned to staging, got %q want %q", client.gotDir, workspace.Root)
	}
}

func TestPrepareRejectsUnknownPreset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	transcoder := NewTranscoderWithDependencies(cfg, store, logging.NewNop(), &stubTranscoder{})

	job := testsupport.SubmitJob(t, store, "https://example.com/video", "video-unknown")
	err := transcoder.Prepare(context.Background(), job)
	if !errors.Is(err, services.ErrUnsupportedCodec) {
		t.Fatalf("expected unsupported codec error, got %v", err)
	}
}

func TestExecuteTimeoutDiscardsPartialOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	client := &stubTranscoder{writeOut: true, err: context.DeadlineExceeded}
	transcoder := NewTranscoderWithDependencies(cfg, store, logging.NewNop(), client)

	job := newStagedJob(t, cfg, store, "audio-mp3-128k")
	err := transcoder.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("timeouts must not be retryable")
	}

	partial := client.gotArgs[len(client.gotArgs)-1]
	if _, statErr := os.Stat(partial); !os.IsNotExist(statErr) {
		t.Fatal("partial output must be discarded on timeout")
	}
	if job.OutputFile != "" {
		t.Fatalf("output file must stay empty, got %q", job.OutputFile)
	}
}

func TestExecuteClassifiesToolchainFailures(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		marker error
	}{
		{"bad input", "toolchain run: exit status 1: Invalid data found when processing input", services.ErrUnsupportedFormat},
		{"missing encoder", "toolchain run: exit status 1: Unknown encoder 'libsvtav1'", services.ErrUnsupportedCodec},
		{"generic", "toolchain run: exit status 1: Conversion failed!", services.ErrToolchain},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			store := testsupport.MustOpenStore(t, cfg)
			client := &stubTranscoder{err: errors.New(tc.stderr)}
			transcoder := NewTranscoderWithDependencies(cfg, store, logging.NewNop(), client)

			job := newStagedJob(t, cfg, store, "video-h264-1080p")
			err := transcoder.Execute(context.Background(), job)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
		})
	}
}

func TestExecuteEmptyOutputIsToolchainError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	transcoder := NewTranscoderWithDependencies(cfg, store, logging.NewNop(), &stubTranscoder{})

	job := newStagedJob(t, cfg, store, "audio-opus-96k")
	err := transcoder.Execute(context.Background(), job)
	if !errors.Is(err, services.ErrToolchain) {
		t.Fatalf("expected toolchain error for missing output, got %v", err)
	}
}

func TestDeadlineScalesWithInputSize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcode.BaseTimeout = 120
	cfg.Transcode.TimeoutPer100MiB = 60
	store := testsupport.MustOpenStore(t, cfg)
	transcoder := NewTranscoderWithDependencies(cfg, store, logging.NewNop(), &stubTranscoder{})

	if got := transcoder.deadlineFor(50 << 20); got != 120*time.Second {
		t.Fatalf("small input: expected 120s, got %s", got)
	}
	if got := transcoder.deadlineFor(250 << 20); got != 240*time.Second {
		t.Fatalf("large input: expected 240s, got %s", got)
	}
}
