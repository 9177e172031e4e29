package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackzampolin/scriptorium/internal/fetch"
	"github.com/jackzampolin/scriptorium/internal/manifest"
	"github.com/jackzampolin/scriptorium/internal/queue"
	"github.com/jackzampolin/scriptorium/internal/store"
	"github.com/jackzampolin/scriptorium/internal/stream"
	"github.com/jackzampolin/scriptorium/internal/testutil"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, url string) (*manifest.Manifest, error) {
	if strings.Contains(url, "unsupported") {
		return nil, manifest.ErrUnsupported
	}
	links := []string{url + "/1", url + "/2"}
	return &manifest.Manifest{TotalPages: 2, DisplayName: "Resolved", Library: "vatlib", PageLinks: links}, nil
}

// gatedDownloader blocks every download until release is closed.
type gatedDownloader struct {
	once    sync.Once
	release chan struct{}
}

func newGatedDownloader() *gatedDownloader {
	return &gatedDownloader{release: make(chan struct{})}
}

func (d *gatedDownloader) open() { d.once.Do(func() { close(d.release) }) }

func (d *gatedDownloader) Download(ctx context.Context, req fetch.Request, cb fetch.Callbacks) (*fetch.Artifact, error) {
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	cb.OnProgress(len(req.Pages), 0)
	return &fetch.Artifact{Path: req.OutputPath, Pages: len(req.Pages)}, nil
}

type testEnv struct {
	srv        *Server
	q          *queue.Queue
	downloader *gatedDownloader
	http       *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d := newGatedDownloader()
	q, err := queue.New(context.Background(), queue.Config{
		Store:      store.NewMemoryStore(),
		Resolver:   stubResolver{},
		Downloader: d,
		OutputPath: func(id, _ string) string { return id + ".pdf" },
		IdlePoll:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("queue.New() error = %v", err)
	}
	srv, err := New(Config{Queue: q, StoreBackend: "memory"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		d.open()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return &testEnv{srv: srv, q: q, downloader: d, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestNew_RequiresQueue(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without a queue")
	}
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)

	var health struct{ Status, Queue string }
	if code := env.do(t, "GET", "/health", nil, &health); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	if health.Status != "ok" || health.Queue != "ok" {
		t.Errorf("health = %+v", health)
	}

	env.q.AddJob(queue.JobSpec{URL: "https://x/a"})
	var status struct {
		Store struct{ Backend string }
		Queue struct{ Total, Pending int }
	}
	if code := env.do(t, "GET", "/status", nil, &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if status.Store.Backend != "memory" || status.Queue.Total != 1 || status.Queue.Pending != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestQueueItems(t *testing.T) {
	env := newTestEnv(t)

	var added struct {
		ID  string
		Job queue.Job
	}
	code := env.do(t, "POST", "/api/queue/items", map[string]any{"url": "https://example.org/ms/42", "startPage": 2, "endPage": 5}, &added)
	if code != http.StatusCreated {
		t.Fatalf("add = %d", code)
	}
	if added.ID == "" || added.Job.DisplayName != "example.org/ms/42" || added.Job.Status != queue.StatusPending {
		t.Errorf("added = %+v", added)
	}
	if o := added.Job.DownloadOptions; o == nil || o.StartPage != 2 || o.EndPage != 5 {
		t.Errorf("downloadOptions = %+v", o)
	}

	t.Run("add validation", func(t *testing.T) {
		for _, body := range []map[string]any{
			{"url": "  "},
			{"url": "https://x", "startPage": 9, "endPage": 3},
		} {
			if code := env.do(t, "POST", "/api/queue/items", body, nil); code != http.StatusBadRequest {
				t.Errorf("add %v = %d, want 400", body, code)
			}
		}
	})

	t.Run("get", func(t *testing.T) {
		var job queue.Job
		if code := env.do(t, "GET", "/api/queue/items/"+added.ID, nil, &job); code != http.StatusOK || job.ID != added.ID {
			t.Errorf("get = %d %+v", code, job)
		}
		if code := env.do(t, "GET", "/api/queue/items/nope", nil, nil); code != http.StatusNotFound {
			t.Errorf("get unknown = %d", code)
		}
	})

	t.Run("update", func(t *testing.T) {
		var job queue.Job
		code := env.do(t, "PATCH", "/api/queue/items/"+added.ID, map[string]any{"displayName": "Renamed"}, &job)
		if code != http.StatusOK || job.DisplayName != "Renamed" {
			t.Errorf("update = %d %+v", code, job)
		}
		if code := env.do(t, "PATCH", "/api/queue/items/"+added.ID, map[string]any{"status": "bogus"}, nil); code != http.StatusBadRequest {
			t.Errorf("invalid status = %d", code)
		}
		if code := env.do(t, "PATCH", "/api/queue/items/"+added.ID, map[string]any{"status": "downloading"}, nil); code != http.StatusConflict {
			t.Errorf("downloading status = %d", code)
		}
		if code := env.do(t, "PATCH", "/api/queue/items/nope", map[string]any{"displayName": "x"}, nil); code != http.StatusNotFound {
			t.Errorf("unknown id = %d", code)
		}
	})

	t.Run("pause and resume item", func(t *testing.T) {
		if code := env.do(t, "POST", "/api/queue/items/"+added.ID+"/pause", nil, nil); code != http.StatusConflict {
			t.Errorf("pause pending = %d, want 409", code)
		}
		if code := env.do(t, "POST", "/api/queue/items/nope/resume", nil, nil); code != http.StatusNotFound {
			t.Errorf("resume unknown = %d, want 404", code)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if code := env.do(t, "DELETE", "/api/queue/items/"+added.ID, nil, nil); code != http.StatusNoContent {
			t.Errorf("remove = %d", code)
		}
		if code := env.do(t, "DELETE", "/api/queue/items/"+added.ID, nil, nil); code != http.StatusNotFound {
			t.Errorf("second remove = %d", code)
		}
	})
}

func TestQueueMoveAndClear(t *testing.T) {
	env := newTestEnv(t)
	a := env.q.AddJob(queue.JobSpec{URL: "https://x/a"})
	b := env.q.AddJob(queue.JobSpec{URL: "https://x/b"})

	var st queue.State
	if code := env.do(t, "POST", "/api/queue/move", map[string]int{"from": 1, "to": 0}, &st); code != http.StatusOK {
		t.Fatalf("move = %d", code)
	}
	if st.Items[0].ID != b || st.Items[1].ID != a {
		t.Errorf("order after move = %s,%s", st.Items[0].ID, st.Items[1].ID)
	}
	if code := env.do(t, "POST", "/api/queue/move", map[string]int{"from": 0, "to": 5}, nil); code != http.StatusBadRequest {
		t.Errorf("out of range move = %d", code)
	}

	failed := queue.StatusFailed
	env.q.UpdateJob(a, queue.JobUpdate{Status: &failed})

	var cleared struct{ Removed int }
	if code := env.do(t, "POST", "/api/queue/clear?status=failed", nil, &cleared); code != http.StatusOK || cleared.Removed != 1 {
		t.Errorf("clear failed = %d removed=%d", code, cleared.Removed)
	}
	if code := env.do(t, "POST", "/api/queue/clear?status=bogus", nil, nil); code != http.StatusBadRequest {
		t.Errorf("clear bogus = %d", code)
	}
	if code := env.do(t, "POST", "/api/queue/clear?status=all", nil, &cleared); code != http.StatusOK || cleared.Removed != 1 {
		t.Errorf("clear all = %d removed=%d", code, cleared.Removed)
	}
}

func TestQueueControl(t *testing.T) {
	env := newTestEnv(t)
	id := env.q.AddJob(queue.JobSpec{URL: "https://x/a"})

	if code := env.do(t, "POST", "/api/queue/stop", nil, nil); code != http.StatusConflict {
		t.Errorf("stop while idle = %d", code)
	}

	var st queue.State
	if code := env.do(t, "POST", "/api/queue/start", nil, &st); code != http.StatusOK || !st.IsProcessing {
		t.Fatalf("start = %d processing=%t", code, st.IsProcessing)
	}
	if code := env.do(t, "POST", "/api/queue/start", nil, nil); code != http.StatusConflict {
		t.Errorf("second start = %d", code)
	}
	if code := env.do(t, "POST", "/api/queue/pause", nil, &st); code != http.StatusOK || !st.IsPaused {
		t.Errorf("pause = %d paused=%t", code, st.IsPaused)
	}
	if code := env.do(t, "POST", "/api/queue/resume", nil, &st); code != http.StatusOK || st.IsPaused {
		t.Errorf("resume = %d paused=%t", code, st.IsPaused)
	}

	waitFor(t, func() bool {
		j, _ := env.q.GetJob(id)
		return j.Status == queue.StatusDownloading
	})
	var job queue.Job
	if code := env.do(t, "POST", "/api/queue/items/"+id+"/pause", nil, &job); code != http.StatusOK || job.Status != queue.StatusPaused {
		t.Errorf("pause item = %d %s", code, job.Status)
	}
	waitFor(t, func() bool { return !env.q.GetState().IsProcessing })

	if code := env.do(t, "POST", "/api/queue/items/"+id+"/resume", nil, &job); code != http.StatusOK || job.Status != queue.StatusPending {
		t.Errorf("resume item = %d %s", code, job.Status)
	}
	if code := env.do(t, "POST", "/api/queue/start", nil, nil); code != http.StatusOK {
		t.Errorf("restart = %d", code)
	}

	env.downloader.open()
	waitFor(t, func() bool {
		j, _ := env.q.GetJob(id)
		return j.Status == queue.StatusCompleted
	})

	var stats queue.Statistics
	if code := env.do(t, "GET", "/api/queue/stats", nil, &stats); code != http.StatusOK || stats.Completed != 1 {
		t.Errorf("stats = %d %+v", code, stats)
	}
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	var s queue.GlobalSettings
	if code := env.do(t, "PUT", "/api/queue/settings", map[string]any{"pauseBetweenItems": 7}, &s); code != http.StatusOK {
		t.Fatalf("put = %d", code)
	}
	if s.PauseBetweenItems != 7 || s.ConcurrentDownloads != 3 || s.AutoStart {
		t.Errorf("settings = %+v", s)
	}
	if code := env.do(t, "PUT", "/api/queue/settings", map[string]any{"concurrentDownloads": 0}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid concurrency = %d", code)
	}
	if code := env.do(t, "GET", "/api/queue/settings", nil, &s); code != http.StatusOK || s.PauseBetweenItems != 7 {
		t.Errorf("get = %d %+v", code, s)
	}
	if code := env.do(t, "PUT", "/api/queue/settings", "not an object", nil); code != http.StatusBadRequest {
		t.Errorf("bad body = %d", code)
	}
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.hub.Run(ctx)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/queue/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	id := env.q.AddJob(queue.JobSpec{URL: "https://x/a"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg stream.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if msg.Type != stream.MessageQueueState {
			t.Fatalf("type = %q", msg.Type)
		}
		if len(msg.State.Items) == 1 && msg.State.Items[0].ID == id {
			return
		}
	}
}

func TestStart_ServesAndShutsDown(t *testing.T) {
	q, err := queue.New(context.Background(), queue.Config{
		Store:      store.NewMemoryStore(),
		Resolver:   stubResolver{},
		Downloader: newGatedDownloader(),
	})
	if err != nil {
		t.Fatal(err)
	}
	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{Host: "127.0.0.1", Port: port, Queue: q})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	if err := testutil.WaitForHealth("http://127.0.0.1:"+port, 5*time.Second); err != nil {
		cancel()
		t.Fatal(err)
	}
	if srv.Addr() != "127.0.0.1:"+port {
		t.Errorf("Addr() = %q", srv.Addr())
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}

	cancel()
	if err := testutil.WaitForShutdown(done, 10*time.Second); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if srv.IsRunning() {
		t.Error("IsRunning() after shutdown")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
