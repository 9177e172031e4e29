package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultMaxRetries is used when Config.MaxRetries is nil.
const DefaultMaxRetries = 5

// Config configures a Fetcher.
type Config struct {
	HTTPClient        *http.Client
	MaxConcurrency    int
	RequestsPerSecond float64 // 0 disables rate limiting
	MaxRetries        *uint   // retries after the first attempt; nil uses DefaultMaxRetries
	RetryDelay        time.Duration
	Timeout           time.Duration
	UserAgent         string
	TempDir           string // parent for per-download page directories
	KeepImages        bool
	Merger            Merger
	Logger            *slog.Logger
}

// Fetcher downloads page images in parallel and merges them.
type Fetcher struct {
	http        *http.Client
	concurrency int
	limiter     *rate.Limiter
	maxRetries  uint
	retryDelay  time.Duration
	userAgent   string
	tempDir     string
	keepImages  bool
	merger      Merger
	logger      *slog.Logger
}

// New creates a Fetcher with defaults applied.
func New(cfg Config) *Fetcher {
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	retries := uint(DefaultMaxRetries)
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "scriptorium/1.0"
	}
	if cfg.Merger == nil {
		cfg.Merger = PDFMerger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	burst := cfg.MaxConcurrency
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Fetcher{
		http:        cfg.HTTPClient,
		concurrency: cfg.MaxConcurrency,
		limiter:     rate.NewLimiter(limit, burst),
		maxRetries:  retries,
		retryDelay:  cfg.RetryDelay,
		userAgent:   cfg.UserAgent,
		tempDir:     cfg.TempDir,
		keepImages:  cfg.KeepImages,
		merger:      cfg.Merger,
		logger:      cfg.Logger,
	}
}

// Download implements Downloader.
func (f *Fetcher) Download(ctx context.Context, req Request, cb Callbacks) (*Artifact, error) {
	if len(req.Pages) == 0 {
		return nil, ErrNoPages
	}
	if req.OutputPath == "" {
		return nil, errors.New("output path is required")
	}

	workDir, err := os.MkdirTemp(f.tempDir, "scriptorium-pages-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create page directory: %w", err)
	}
	if !f.keepImages {
		defer os.RemoveAll(workDir)
	}

	cb.status(StatusDownloading)
	f.logger.Debug("downloading pages", "pages", len(req.Pages), "dir", workDir)

	files, err := f.fetchAll(ctx, workDir, req.Pages, cb)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cb.fail(err.Error())
		return nil, err
	}

	cb.status(StatusMerging)
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	pages, err := f.merger.Merge(files, req.OutputPath)
	if err != nil {
		cb.fail(err.Error())
		return nil, err
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output: %w", err)
	}

	cb.status(StatusDone)
	return &Artifact{Path: req.OutputPath, Pages: pages, Bytes: info.Size()}, nil
}

func (f *Fetcher) fetchAll(ctx context.Context, dir string, pages []string, cb Callbacks) ([]string, error) {
	files := make([]string, len(pages))
	start := time.Now()

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, pageURL := range pages {
		g.Go(func() error {
			if err := f.limiter.Wait(gctx); err != nil {
				return err
			}
			name, err := f.fetchPage(gctx, dir, i, pageURL)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			files[i] = name

			mu.Lock()
			done++
			cb.progress(done, EstimateRemaining(time.Since(start), done, len(pages)))
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, dir string, index int, pageURL string) (string, error) {
	var ext string
	data, err := retry.DoWithData(
		func() ([]byte, error) {
			body, contentType, err := f.get(ctx, pageURL)
			if err != nil {
				return nil, err
			}
			ext = imageExt(contentType, body, pageURL)
			return body, nil
		},
		retry.Context(ctx),
		retry.Attempts(f.maxRetries+1),
		retry.Delay(f.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Debug("page fetch failed, retrying", "url", pageURL, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", err
	}

	name := filepath.Join(dir, fmt.Sprintf("page-%05d%s", index+1, ext))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", retry.Unrecoverable(err)
	}
	return name, nil
}

func (f *Fetcher) get(ctx context.Context, pageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", retry.Unrecoverable(ctx.Err())
		}
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("image server returned %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, "", err
		}
		return nil, "", retry.Unrecoverable(err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", errors.New("empty image body")
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func imageExt(contentType string, body []byte, pageURL string) string {
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "image/jpeg", "image/jpg":
			return ".jpg"
		case "image/png":
			return ".png"
		case "image/tiff":
			return ".tif"
		case "image/webp":
			return ".webp"
		}
	}
	if e := path.Ext(pageURL); e != "" && len(e) <= 5 {
		return e
	}
	return ".jpg"
}
