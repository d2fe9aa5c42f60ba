package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Transcoder defines the behaviour required by the transcode handler.
type Transcoder interface {
	Transcode(ctx context.Context, workDir string, args []string, timeout time.Duration) error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, dir, binary string, args []string, onLine func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps toolchain CLI interactions.
type Client struct {
	binary string
	exec   Executor
}

// New constructs a toolchain client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	client := &Client{
		binary: binary,
		exec:   groupExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Transcode runs the toolchain with the supplied argument list. The working
// directory is pinned to workDir so any scratch files the toolchain drops
// stay inside the job's staging workspace. When the timeout elapses the
// whole process group is killed so helper processes cannot outlive the run;
// the returned error then wraps context.DeadlineExceeded.
func (c *Client) Transcode(ctx context.Context, workDir string, args []string, timeout time.Duration) error {
	if len(args) == 0 {
		return errors.New("toolchain arguments required")
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var tail tailBuffer
	err := c.exec.Run(runCtx, workDir, c.binary, args, tail.append)
	if err == nil {
		return nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("toolchain exceeded %s deadline: %w", timeout, context.DeadlineExceeded)
	}
	if tailText := tail.String(); tailText != "" {
		return fmt.Errorf("toolchain run: %w: %s", err, tailText)
	}
	return fmt.Errorf("toolchain run: %w", err)
}

// groupExecutor starts the toolchain in its own process group and kills the
// group when the context is cancelled.
type groupExecutor struct{}

func (groupExecutor) Run(ctx context.Context, dir, binary string, args []string, onLine func(string)) error {
	cmd := exec.Command(binary, args...) //nolint:gosec
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	pgid := cmd.Process.Pid

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Negative pid signals the whole group.
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
	}
	wg.Add(2)
	go scan(stderr)
	go scan(stdout)
	wg.Wait()

	waitErr := cmd.Wait()
	close(done)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if waitErr != nil {
		return fmt.Errorf("wait command: %w", waitErr)
	}
	return nil
}

// tailBuffer keeps the last few output lines for error reporting.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
}

const tailBufferLimit = 8

func (b *tailBuffer) append(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > tailBufferLimit {
		b.lines = b.lines[len(b.lines)-tailBufferLimit:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "; ")
}
