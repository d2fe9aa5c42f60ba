package ytdlp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Candidate is one downloadable rendition of a resolved source.
type Candidate struct {
	URL      string
	FormatID string
	Ext      string
	Height   int
	Bitrate  float64
	Protocol string
	Filesize int64
	HasAudio bool
	HasVideo bool
}

// Resolution is the outcome of probing a source reference.
type Resolution struct {
	Title      string
	Duration   float64
	Candidates []Candidate
}

// Resolver defines the behaviour required by the fetch handler.
type Resolver interface {
	Resolve(ctx context.Context, sourceRef string) (*Resolution, error)
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
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

// Client wraps resolver CLI interactions.
type Client struct {
	binary  string
	timeout time.Duration
	exec    Executor
}

// New constructs a resolver client.
func New(binary string, timeout time.Duration, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("resolver binary required")
	}
	client := &Client{
		binary:  binary,
		timeout: timeout,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Resolve probes a source reference and returns its renditions ranked best
// first. The source reference is passed as a single argv element, never
// through a shell.
func (c *Client) Resolve(ctx context.Context, sourceRef string) (*Resolution, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return nil, errors.New("source reference required")
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{"-J", "--no-playlist", "--no-warnings", sourceRef}

	var stdout strings.Builder
	if err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		stdout.WriteString(line)
		stdout.WriteByte('\n')
	}); err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("resolver timed out after %s: %w", c.timeout, err)
		}
		return nil, fmt.Errorf("resolver probe: %w", err)
	}

	resolution, err := parseProbe(stdout.String())
	if err != nil {
		return nil, err
	}
	return resolution, nil
}

type probePayload struct {
	Title    string         `json:"title"`
	Duration float64        `json:"duration"`
	URL      string         `json:"url"`
	Ext      string         `json:"ext"`
	Formats  []probeFormat  `json:"formats"`
	Entries  []probePayload `json:"entries"`
}

type probeFormat struct {
	URL      string  `json:"url"`
	FormatID string  `json:"format_id"`
	Ext      string  `json:"ext"`
	Height   int     `json:"height"`
	TBR      float64 `json:"tbr"`
	Protocol string  `json:"protocol"`
	Filesize int64   `json:"filesize"`
	ACodec   string  `json:"acodec"`
	VCodec   string  `json:"vcodec"`
}

func parseProbe(raw string) (*Resolution, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("resolver returned no metadata")
	}

	var payload probePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode resolver metadata: %w", err)
	}
	// Playlist probes nest the media under entries even with --no-playlist.
	if len(payload.Formats) == 0 && payload.URL == "" && len(payload.Entries) > 0 {
		payload = payload.Entries[0]
	}

	resolution := &Resolution{
		Title:    strings.TrimSpace(payload.Title),
		Duration: payload.Duration,
	}

	for _, format := range payload.Formats {
		if strings.TrimSpace(format.URL) == "" {
			continue
		}
		resolution.Candidates = append(resolution.Candidates, Candidate{
			URL:      format.URL,
			FormatID: format.FormatID,
			Ext:      format.Ext,
			Height:   format.Height,
			Bitrate:  format.TBR,
			Protocol: format.Protocol,
			Filesize: format.Filesize,
			HasAudio: hasCodec(format.ACodec),
			HasVideo: hasCodec(format.VCodec),
		})
	}
	if len(resolution.Candidates) == 0 && strings.TrimSpace(payload.URL) != "" {
		resolution.Candidates = append(resolution.Candidates, Candidate{
			URL:      payload.URL,
			Ext:      payload.Ext,
			HasAudio: true,
			HasVideo: true,
		})
	}
	if len(resolution.Candidates) == 0 {
		return nil, errors.New("resolver found no downloadable renditions")
	}

	rankCandidates(resolution.Candidates)
	return resolution, nil
}

func hasCodec(value string) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	return value != "" && value != "none"
}

// rankCandidates orders renditions best first: muxed streams over split ones,
// plain HTTP over segmented protocols, then higher resolution and bitrate.
func rankCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if muxed(a) != muxed(b) {
			return muxed(a)
		}
		if plainHTTP(a.Protocol) != plainHTTP(b.Protocol) {
			return plainHTTP(a.Protocol)
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Bitrate > b.Bitrate
	})
}

func muxed(c Candidate) bool {
	return c.HasAudio && c.HasVideo
}

func plainHTTP(protocol string) bool {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "http", "https":
		return true
	default:
		return false
	}
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once
	var stderrTail tailBuffer

	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			forward(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout, func(line string) {
		if onStdout != nil {
			onStdout(line)
			return
		}
		fmt.Fprintln(os.Stderr, line)
	})
	go scan(stderr, stderrTail.append)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		if tail := stderrTail.String(); tail != "" {
			return fmt.Errorf("wait command: %w: %s", err, tail)
		}
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}

// tailBuffer keeps the last few stderr lines for error reporting.
type tailBuffer struct {
	lines []string
}

const tailBufferLimit = 8

func (b *tailBuffer) append(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > tailBufferLimit {
		b.lines = b.lines[len(b.lines)-tailBufferLimit:]
	}
}

func (b *tailBuffer) String() string {
	return strings.Join(b.lines, "; ")
}
