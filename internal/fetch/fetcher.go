package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"snag/internal/config"
	"snag/internal/logging"
	"snag/internal/queue"
	"snag/internal/services"
	"snag/internal/services/ytdlp"
	"snag/internal/stage"
	"snag/internal/staging"
)

// Fetcher resolves source references and transfers the chosen rendition into
// the job's staging workspace.
type Fetcher struct {
	store    *queue.Store
	cfg      *config.Config
	logger   *slog.Logger
	resolver ytdlp.Resolver
	client   *http.Client
}

// NewFetcher constructs the fetch stage handler using default dependencies.
func NewFetcher(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Fetcher, error) {
	resolver, err := ytdlp.New(cfg.Fetch.ResolverBinary, time.Duration(cfg.Fetch.ResolverTimeout)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("construct resolver: %w", err)
	}
	httpClient := &http.Client{Timeout: time.Duration(cfg.Fetch.TransferTimeout) * time.Second}
	return NewFetcherWithDependencies(cfg, store, logger, resolver, httpClient), nil
}

// NewFetcherWithDependencies allows injecting collaborators (used in tests).
func NewFetcherWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, resolver ytdlp.Resolver, client *http.Client) *Fetcher {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "fetcher"))
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{store: store, cfg: cfg, logger: stageLogger, resolver: resolver, client: client}
}

func (f *Fetcher) Prepare(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, f.logger)

	workspace, err := staging.NewWorkspace(f.cfg.Paths.StagingDir, job.Token)
	if err != nil {
		return services.Wrap(services.ErrResolve, "fetching", "derive workspace", "Staging workspace could not be derived", err)
	}
	if err := workspace.Ensure(); err != nil {
		return services.Wrap(services.ErrResolve, "fetching", "create workspace", "Staging workspace could not be created; check staging_dir permissions", err)
	}
	logger.Info("starting fetch", logging.String("source_ref", job.SourceRef))
	return nil
}

func (f *Fetcher) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, f.logger)

	workspace, err := staging.NewWorkspace(f.cfg.Paths.StagingDir, job.Token)
	if err != nil {
		return services.Wrap(services.ErrResolve, "fetching", "derive workspace", "Staging workspace could not be derived", err)
	}

	resolution, err := f.resolve(ctx, job.SourceRef)
	if err != nil {
		return err
	}
	if title := strings.TrimSpace(resolution.Title); title != "" {
		job.DisplayTitle = title
	}
	logger.Info("source resolved",
		logging.String("title", resolution.Title),
		logging.Int("candidates", len(resolution.Candidates)),
	)

	rawPath, err := f.transfer(ctx, workspace.RawDir(), resolution.Candidates)
	if err != nil {
		return err
	}
	job.RawFile = rawPath

	info, err := os.Stat(rawPath)
	if err != nil {
		return services.Wrap(services.ErrNetwork, "fetching", "verify artifact", "Fetched artifact disappeared from staging", err)
	}
	logger.Info("fetch completed",
		logging.String("raw_file", rawPath),
		logging.Int64("size_bytes", info.Size()),
	)
	return nil
}

// resolve produces ranked renditions for a source reference. Direct file URLs
// skip the resolver subprocess entirely.
func (f *Fetcher) resolve(ctx context.Context, sourceRef string) (*ytdlp.Resolution, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	parsed, err := url.Parse(sourceRef)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, services.Wrap(services.ErrResolve, "fetching", "parse source",
			"Source reference is not a valid URL", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return nil, services.Wrap(services.ErrResolve, "fetching", "parse source",
			fmt.Sprintf("Unsupported URL scheme %q", parsed.Scheme), nil)
	}

	if ext := directMediaExt(parsed.Path); ext != "" {
		if err := f.probeDirect(ctx, sourceRef); err != nil {
			return nil, err
		}
		base := path.Base(parsed.Path)
		return &ytdlp.Resolution{
			Title: strings.TrimSuffix(base, path.Ext(base)),
			Candidates: []ytdlp.Candidate{{
				URL:      sourceRef,
				Ext:      ext,
				HasAudio: true,
				HasVideo: true,
			}},
		}, nil
	}

	resolution, err := f.resolver.Resolve(ctx, sourceRef)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrResolve, "fetching", "probe source",
			"Source could not be resolved to downloadable media", err)
	}
	return resolution, nil
}

// probeDirect gates direct file URLs on the advertised content type. Origins
// that reject HEAD or omit the header are left for the transfer to classify.
func (f *Fetcher) probeDirect(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil
	}
	if ua := strings.TrimSpace(f.cfg.Fetch.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" || isMediaContentType(contentType) {
		return nil
	}
	return services.Wrap(services.ErrUnsupportedFormat, "fetching", "probe source",
		fmt.Sprintf("Source reports non-media content type %q", contentType), nil)
}

func isMediaContentType(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/") {
		return true
	}
	switch mediaType {
	case "application/octet-stream", "application/ogg", "application/mp4":
		return true
	}
	return false
}

// transfer downloads the best usable rendition into destDir. Candidates that
// fail with a client error are skipped; transport failures and server errors
// abort the transfer as retryable network failures.
func (f *Fetcher) transfer(ctx context.Context, destDir string, candidates []ytdlp.Candidate) (string, error) {
	logger := logging.WithContext(ctx, f.logger)

	var lastNetworkErr error
	rejected := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		target := filepath.Join(destDir, artifactName(candidate))
		err := f.download(ctx, candidate.URL, target)
		if err == nil {
			return target, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var status *statusError
		if errors.As(err, &status) && status.code >= 400 && status.code < 500 {
			rejected++
			logger.Warn("rendition rejected by origin",
				logging.Int("status", status.code),
				logging.String("format_id", candidate.FormatID),
			)
			continue
		}
		if errors.Is(err, services.ErrUnsupportedFormat) {
			return "", err
		}
		lastNetworkErr = err
		break
	}

	if lastNetworkErr != nil {
		return "", services.Wrap(services.ErrNetwork, "fetching", "transfer artifact",
			"Media transfer failed; the source may be temporarily unavailable", lastNetworkErr)
	}
	if rejected > 0 {
		return "", services.Wrap(services.ErrResolve, "fetching", "transfer artifact",
			fmt.Sprintf("All %d renditions were rejected by the origin", rejected), nil)
	}
	return "", services.Wrap(services.ErrResolve, "fetching", "transfer artifact",
		"Source resolved to no downloadable renditions", nil)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (f *Fetcher) download(ctx context.Context, rawURL, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if ua := strings.TrimSpace(f.cfg.Fetch.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}

	maxBytes := int64(f.cfg.Fetch.MaxArtifactMiB) << 20
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return services.Wrap(services.ErrUnsupportedFormat, "fetching", "check artifact size",
			fmt.Sprintf("Artifact is %d MiB, above the %d MiB limit", resp.ContentLength>>20, f.cfg.Fetch.MaxArtifactMiB), nil)
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}
	defer func() { _ = out.Close() }()

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	written, err := io.Copy(out, reader)
	if err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("stream artifact: %w", err)
	}
	if maxBytes > 0 && written > maxBytes {
		_ = os.Remove(target)
		return services.Wrap(services.ErrUnsupportedFormat, "fetching", "check artifact size",
			fmt.Sprintf("Artifact exceeded the %d MiB limit mid-transfer", f.cfg.Fetch.MaxArtifactMiB), nil)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		_ = os.Remove(target)
		return fmt.Errorf("short transfer: got %d of %d bytes", written, resp.ContentLength)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("finalize artifact file: %w", err)
	}
	return nil
}

// HealthCheck verifies fetch prerequisites.
func (f *Fetcher) HealthCheck(ctx context.Context) stage.Health {
	const name = "fetcher"
	if f.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(f.cfg.Paths.StagingDir) == "" {
		return stage.Unhealthy(name, "staging directory not configured")
	}
	if _, err := exec.LookPath(f.cfg.Fetch.ResolverBinary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("resolver binary %q not found in PATH", f.cfg.Fetch.ResolverBinary))
	}
	return stage.Healthy(name)
}

var directMediaExts = map[string]struct{}{
	"mp3": {}, "m4a": {}, "aac": {}, "flac": {}, "ogg": {}, "opus": {}, "wav": {},
	"mp4": {}, "mkv": {}, "webm": {}, "mov": {}, "avi": {}, "ts": {},
}

func directMediaExt(urlPath string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(urlPath), "."))
	if _, ok := directMediaExts[ext]; ok {
		return ext
	}
	return ""
}

func artifactName(candidate ytdlp.Candidate) string {
	ext := strings.TrimSpace(candidate.Ext)
	if ext == "" {
		ext = "bin"
	}
	return "artifact." + ext
}
