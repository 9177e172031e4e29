package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

const v2Manifest = `{
  "@context": "http://iiif.io/api/presentation/2/context.json",
  "@id": "https://example.org/iiif/ms42/manifest.json",
  "label": [{"@value": "MS 42", "@language": "en"}],
  "sequences": [{
    "canvases": [
      {"images": [{"resource": {"@id": "https://img.example.org/1.jpg",
        "service": {"@id": "https://img.example.org/iiif/p1/"}}}]},
      {"images": [{"resource": {"@id": "https://img.example.org/2.jpg"}}]},
      {"label": "blank"}
    ]
  }]
}`

const v3Manifest = `{
  "@context": ["http://www.w3.org/ns/anno.jsonld", "http://iiif.io/api/presentation/3/context.json"],
  "id": "https://example.org/iiif/3/manifest",
  "type": "Manifest",
  "label": {"fr": ["Livre d'heures"], "none": ["Book of Hours"]},
  "items": [
    {"type": "Canvas", "items": [{"items": [{"body": {"id": "https://img.example.org/a/full/max/0/default.jpg",
      "service": [{"id": "https://img.example.org/a", "type": "ImageService3"}]}}]}]},
    {"type": "Canvas", "items": [{"items": [{"body": {"id": "https://img.example.org/b.jpg"}}]}]}
  ]
}`

func TestParse_V2(t *testing.T) {
	m, err := Parse([]byte(v2Manifest))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.DisplayName != "MS 42" {
		t.Errorf("DisplayName = %q, want MS 42", m.DisplayName)
	}
	if m.TotalPages != 2 {
		t.Fatalf("TotalPages = %d, want 2", m.TotalPages)
	}
	want := []string{
		"https://img.example.org/iiif/p1/full/full/0/default.jpg",
		"https://img.example.org/2.jpg",
	}
	for i, w := range want {
		if m.PageLinks[i] != w {
			t.Errorf("PageLinks[%d] = %q, want %q", i, m.PageLinks[i], w)
		}
	}
}

func TestParse_V3(t *testing.T) {
	m, err := Parse([]byte(v3Manifest))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.DisplayName != "Book of Hours" {
		t.Errorf("DisplayName = %q, want Book of Hours", m.DisplayName)
	}
	want := []string{
		"https://img.example.org/a/full/max/0/default.jpg",
		"https://img.example.org/b.jpg",
	}
	if len(m.PageLinks) != len(want) {
		t.Fatalf("PageLinks = %v", m.PageLinks)
	}
	for i, w := range want {
		if m.PageLinks[i] != w {
			t.Errorf("PageLinks[%d] = %q, want %q", i, m.PageLinks[i], w)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Error("Parse(invalid) should fail")
	}
	if _, err := Parse([]byte(`{"sequences":[{"canvases":[]}]}`)); !errors.Is(err, ErrNoCanvases) {
		t.Errorf("Parse(empty) error = %v, want ErrNoCanvases", err)
	}
}

func TestLabelText(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"string", `{"label":"Codex"}`, "Codex"},
		{"v2 value object", `{"label":{"@value":"Codex"}}`, "Codex"},
		{"v3 english", `{"label":{"de":["Kodex"],"en":["Codex"]}}`, "Codex"},
		{"v3 other language", `{"label":{"la":["Liber"]}}`, "Liber"},
		{"missing", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := labelText(gjson.Get(tt.json, "label")); got != tt.want {
				t.Errorf("labelText(%s) = %q, want %q", tt.json, got, tt.want)
			}
		})
	}
}

func TestIIIFClient_Fetch(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(v2Manifest))
		}))
		defer srv.Close()

		c := NewIIIFClient(IIIFConfig{MaxRetries: retries(5), RetryDelay: time.Millisecond})
		m, err := c.Fetch(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if m.TotalPages != 2 {
			t.Errorf("TotalPages = %d", m.TotalPages)
		}
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
	})

	t.Run("does not retry not found", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.NotFound(w, r)
		}))
		defer srv.Close()

		c := NewIIIFClient(IIIFConfig{MaxRetries: retries(5), RetryDelay: time.Millisecond})
		if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
			t.Fatal("Fetch() should fail on 404")
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		c := NewIIIFClient(IIIFConfig{MaxRetries: retries(5), RetryDelay: time.Millisecond})
		_, err := c.Fetch(ctx, srv.URL)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Fetch() error = %v, want context.Canceled", err)
		}
	})

	t.Run("sends user agent", func(t *testing.T) {
		var ua string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua = r.Header.Get("User-Agent")
			w.Write([]byte(v3Manifest))
		}))
		defer srv.Close()

		c := NewIIIFClient(IIIFConfig{UserAgent: "test-agent"})
		if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatal(err)
		}
		if ua != "test-agent" {
			t.Errorf("User-Agent = %q", ua)
		}
	})
}

func retries(n uint) *uint { return &n }
