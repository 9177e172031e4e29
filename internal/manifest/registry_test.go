package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestRegistry_Match(t *testing.T) {
	r := NewRegistry(nil, nil)

	tests := []struct {
		url      string
		library  string
		manifest string
	}{
		{
			"https://digi.vatlib.it/view/MSS_Vat.lat.3225",
			"vatlib",
			"https://digi.vatlib.it/iiif/MSS_Vat.lat.3225/manifest.json",
		},
		{
			"https://gallica.bnf.fr/ark:/12148/btv1b8449691v/f1.item",
			"gallica",
			"https://gallica.bnf.fr/iiif/ark:/12148/btv1b8449691v/manifest.json",
		},
		{
			"https://www.e-codices.unifr.ch/en/csg/0390/1/0/",
			"e-codices",
			"https://www.e-codices.unifr.ch/metadata/iiif/csg-0390/manifest.json",
		},
		{
			"https://digital.bodleian.ox.ac.uk/objects/748a9d50-5a3a-440e-ab9d-567dd68b6abb/",
			"bodleian",
			"https://iiif.bodleian.ox.ac.uk/iiif/manifest/748a9d50-5a3a-440e-ab9d-567dd68b6abb.json",
		},
		{
			"https://example.org/iiif/ms42/manifest.json",
			"iiif",
			"https://example.org/iiif/ms42/manifest.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.library, func(t *testing.T) {
			rule, manifestURL, err := r.Match(tt.url)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if rule.Library != tt.library {
				t.Errorf("Library = %q, want %q", rule.Library, tt.library)
			}
			if manifestURL != tt.manifest {
				t.Errorf("manifest URL = %q, want %q", manifestURL, tt.manifest)
			}
		})
	}
}

func TestRegistry_MatchUnsupported(t *testing.T) {
	r := NewRegistry(nil, nil)

	for _, u := range []string{
		"https://example.org/ms/42",
		"not a url",
		"https://gallica.bnf.fr/accueil",
	} {
		if _, _, err := r.Match(u); !errors.Is(err, ErrUnsupported) {
			t.Errorf("Match(%q) error = %v, want ErrUnsupported", u, err)
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(v2Manifest))
	}))
	defer srv.Close()

	srvURL, _ := url.Parse(srv.URL)
	rule := Rule{
		Library: "vatlib",
		Match:   func(u *url.URL) bool { return u.Host == srvURL.Host },
		ManifestURL: func(u *url.URL) (string, error) {
			return srv.URL + "/manifest.json", nil
		},
	}

	r := NewRegistry(NewIIIFClient(IIIFConfig{}), nil, rule)
	m, err := r.Resolve(context.Background(), srv.URL+"/ms/42")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if m.Library != "vatlib" || m.DisplayName != "MS 42" || m.TotalPages != 2 {
		t.Errorf("Resolve() = %+v", m)
	}
	if got := strings.Join(r.Libraries(), ","); got != "vatlib" {
		t.Errorf("Libraries() = %q", got)
	}
}
