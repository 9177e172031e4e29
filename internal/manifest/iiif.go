package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"
)

// DefaultMaxRetries is used when IIIFConfig.MaxRetries is nil.
const DefaultMaxRetries = 3

// IIIFConfig configures an IIIFClient.
type IIIFConfig struct {
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries *uint // retries after the first attempt; nil uses DefaultMaxRetries
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// IIIFClient fetches and parses IIIF Presentation manifests (v2 and v3).
type IIIFClient struct {
	http       *http.Client
	userAgent  string
	maxRetries uint
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewIIIFClient creates an IIIFClient with defaults applied.
func NewIIIFClient(cfg IIIFConfig) *IIIFClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "scriptorium/1.0"
	}
	retries := uint(DefaultMaxRetries)
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &IIIFClient{
		http:       cfg.HTTPClient,
		userAgent:  cfg.UserAgent,
		maxRetries: retries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

// Fetch downloads and parses the manifest at manifestURL.
// Network errors, 429 and 5xx are retried; other 4xx fail immediately.
func (c *IIIFClient) Fetch(ctx context.Context, manifestURL string) (*Manifest, error) {
	body, err := retry.DoWithData(
		func() ([]byte, error) { return c.get(ctx, manifestURL) },
		retry.Context(ctx),
		retry.Attempts(c.maxRetries+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("manifest fetch failed, retrying", "url", manifestURL, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	return Parse(body)
}

func (c *IIIFClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/ld+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Unrecoverable(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("manifest server returned %d", resp.StatusCode)
	default:
		return nil, retry.Unrecoverable(fmt.Errorf("manifest server returned %d", resp.StatusCode))
	}
}

// Parse extracts page image URLs and a display name from a IIIF manifest.
func Parse(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("manifest is not valid JSON")
	}
	doc := gjson.ParseBytes(data)

	var pages []string
	if isV3(doc) {
		pages = v3Pages(doc)
	} else {
		pages = v2Pages(doc)
	}
	if len(pages) == 0 {
		return nil, ErrNoCanvases
	}

	return &Manifest{
		TotalPages:  len(pages),
		DisplayName: strings.TrimSpace(labelText(doc.Get("label"))),
		PageLinks:   pages,
	}, nil
}

func isV3(doc gjson.Result) bool {
	for _, c := range doc.Get("@context").Array() {
		if strings.Contains(c.String(), "presentation/3") {
			return true
		}
	}
	return doc.Get("type").String() == "Manifest" && doc.Get("items").IsArray()
}

func v2Pages(doc gjson.Result) []string {
	var pages []string
	doc.Get("sequences.0.canvases").ForEach(func(_, canvas gjson.Result) bool {
		res := canvas.Get("images.0.resource")
		if !res.Exists() {
			return true
		}
		if svc := firstString(res, "service.@id", "service.id", "service.0.@id", "service.0.id"); svc != "" {
			pages = append(pages, strings.TrimSuffix(svc, "/")+"/full/full/0/default.jpg")
			return true
		}
		if id := firstString(res, "@id", "id"); id != "" {
			pages = append(pages, id)
		}
		return true
	})
	return pages
}

func v3Pages(doc gjson.Result) []string {
	var pages []string
	doc.Get("items").ForEach(func(_, canvas gjson.Result) bool {
		body := canvas.Get("items.0.items.0.body")
		if !body.Exists() {
			return true
		}
		if svc := firstString(body, "service.0.id", "service.0.@id", "service.id", "service.@id"); svc != "" {
			pages = append(pages, strings.TrimSuffix(svc, "/")+"/full/max/0/default.jpg")
			return true
		}
		if id := body.Get("id").String(); id != "" {
			pages = append(pages, id)
		}
		return true
	})
	return pages
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// labelText flattens the label shapes found in the wild: a plain string,
// a v2 array of strings or {"@value"} objects, or a v3 language map.
func labelText(label gjson.Result) string {
	switch {
	case !label.Exists():
		return ""
	case label.Type == gjson.String:
		return label.String()
	case label.IsArray():
		for _, item := range label.Array() {
			if s := labelText(item); s != "" {
				return s
			}
		}
		return ""
	case label.IsObject():
		if v := label.Get("@value"); v.Exists() {
			return v.String()
		}
		for _, lang := range []string{"en", "none"} {
			if s := labelText(label.Get(lang)); s != "" {
				return s
			}
		}
		m := label.Map()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := labelText(m[k]); s != "" {
				return s
			}
		}
	}
	return ""
}
