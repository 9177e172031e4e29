package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/scriptorium/internal/fetch"
	"github.com/jackzampolin/scriptorium/internal/manifest"
	"github.com/jackzampolin/scriptorium/internal/store"
)

// fakeResolver returns canned manifests keyed by URL.
type fakeResolver struct {
	mu        sync.Mutex
	manifests map[string]*manifest.Manifest
	errs      map[string]error
	delay     map[string]time.Duration
	calls     []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		manifests: make(map[string]*manifest.Manifest),
		errs:      make(map[string]error),
		delay:     make(map[string]time.Duration),
	}
}

func (r *fakeResolver) add(url, name, library string, pages int) {
	links := make([]string, pages)
	for i := range links {
		links[i] = fmt.Sprintf("%s/page/%d", url, i+1)
	}
	r.mu.Lock()
	r.manifests[url] = &manifest.Manifest{TotalPages: pages, DisplayName: name, Library: library, PageLinks: links}
	r.mu.Unlock()
}

func (r *fakeResolver) Resolve(ctx context.Context, url string) (*manifest.Manifest, error) {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	m, err, d := r.manifests[url], r.errs[url], r.delay[url]
	r.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, manifest.ErrUnsupported
	}
	c := *m
	c.PageLinks = append([]string(nil), m.PageLinks...)
	return &c, nil
}

// fakeDownloader records requests and delegates to fn when set.
type fakeDownloader struct {
	mu       sync.Mutex
	requests []fetch.Request
	active   int
	maxSeen  int
	fn       func(ctx context.Context, req fetch.Request, cb fetch.Callbacks) (*fetch.Artifact, error)
}

func (d *fakeDownloader) Download(ctx context.Context, req fetch.Request, cb fetch.Callbacks) (*fetch.Artifact, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.active++
	if d.active > d.maxSeen {
		d.maxSeen = d.active
	}
	fn := d.fn
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if fn != nil {
		return fn(ctx, req, cb)
	}
	for i := range req.Pages {
		cb.OnProgress(i+1, time.Duration(len(req.Pages)-i-1)*time.Second)
	}
	return &fetch.Artifact{Path: req.OutputPath, Pages: len(req.Pages)}, nil
}

func (d *fakeDownloader) outputs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.requests))
	for i, r := range d.requests {
		out[i] = r.OutputPath
	}
	return out
}

// blockUntilCancelled is a download that only ends when its context does.
func blockUntilCancelled(started chan<- string) func(ctx context.Context, req fetch.Request, cb fetch.Callbacks) (*fetch.Artifact, error) {
	return func(ctx context.Context, req fetch.Request, cb fetch.Callbacks) (*fetch.Artifact, error) {
		if started != nil {
			started <- req.OutputPath
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type fakePublisher struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (p *fakePublisher) Publish(ctx context.Context, localPath, objectName string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, localPath)
	if p.err != nil {
		return "", p.err
	}
	return "s3://bucket/" + objectName, nil
}

type harness struct {
	q          *Queue
	store      *store.MemoryStore
	resolver   *fakeResolver
	downloader *fakeDownloader
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		store:      store.NewMemoryStore(),
		resolver:   newFakeResolver(),
		downloader: &fakeDownloader{},
	}
	cfg := Config{
		Store:      h.store,
		Resolver:   h.resolver,
		Downloader: h.downloader,
		OutputPath: func(id, _ string) string { return id },
		IdlePoll:   10 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	q, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.q = q
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.Close(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Close() error = %v", err)
		}
	})
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) job(t *testing.T, id string) *Job {
	t.Helper()
	j, ok := h.q.GetJob(id)
	if !ok {
		t.Fatalf("job %s not found", id)
	}
	return j
}

func (h *harness) status(id string) Status {
	j, ok := h.q.GetJob(id)
	if !ok {
		return ""
	}
	return j.Status
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.q.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func ids(st *State) []string {
	out := make([]string, len(st.Items))
	for i, j := range st.Items {
		out[i] = j.ID
	}
	return out
}
