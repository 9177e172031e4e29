package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Rule maps viewer URLs of one library to that library's IIIF manifest.
type Rule struct {
	Library     string
	Match       func(u *url.URL) bool
	ManifestURL func(u *url.URL) (string, error)
}

var (
	gallicaArk    = regexp.MustCompile(`ark:/12148/([A-Za-z0-9]+)`)
	ecodicesPath  = regexp.MustCompile(`^/(?:[a-z]{2}/)?(?:list/one/|thumbs/|description/)?([a-z0-9]+)/([A-Za-z0-9_-]+)`)
	bodleianUUID  = regexp.MustCompile(`/objects/([0-9a-f-]{36})`)
	vatlibShelfID = regexp.MustCompile(`/(?:view|mss/detail)/([^/?#]+)`)
)

func hostIs(hosts ...string) func(u *url.URL) bool {
	return func(u *url.URL) bool {
		h := strings.ToLower(u.Hostname())
		for _, want := range hosts {
			if h == want {
				return true
			}
		}
		return false
	}
}

// DefaultRules returns the built-in library rules in match order.
// The generic IIIF rule is last so host-specific rules win.
func DefaultRules() []Rule {
	return []Rule{
		{
			Library: "vatlib",
			Match:   hostIs("digi.vatlib.it"),
			ManifestURL: func(u *url.URL) (string, error) {
				m := vatlibShelfID.FindStringSubmatch(u.Path)
				if m == nil {
					return "", fmt.Errorf("%w: no shelfmark in %s", ErrUnsupported, u)
				}
				return "https://digi.vatlib.it/iiif/" + m[1] + "/manifest.json", nil
			},
		},
		{
			Library: "gallica",
			Match:   hostIs("gallica.bnf.fr"),
			ManifestURL: func(u *url.URL) (string, error) {
				m := gallicaArk.FindStringSubmatch(u.Path)
				if m == nil {
					return "", fmt.Errorf("%w: no ark identifier in %s", ErrUnsupported, u)
				}
				return "https://gallica.bnf.fr/iiif/ark:/12148/" + m[1] + "/manifest.json", nil
			},
		},
		{
			Library: "e-codices",
			Match:   hostIs("www.e-codices.unifr.ch", "e-codices.unifr.ch"),
			ManifestURL: func(u *url.URL) (string, error) {
				m := ecodicesPath.FindStringSubmatch(u.Path)
				if m == nil {
					return "", fmt.Errorf("%w: no collection/manuscript in %s", ErrUnsupported, u)
				}
				return "https://www.e-codices.unifr.ch/metadata/iiif/" + m[1] + "-" + m[2] + "/manifest.json", nil
			},
		},
		{
			Library: "bodleian",
			Match:   hostIs("digital.bodleian.ox.ac.uk"),
			ManifestURL: func(u *url.URL) (string, error) {
				m := bodleianUUID.FindStringSubmatch(u.Path)
				if m == nil {
					return "", fmt.Errorf("%w: no object id in %s", ErrUnsupported, u)
				}
				return "https://iiif.bodleian.ox.ac.uk/iiif/manifest/" + m[1] + ".json", nil
			},
		},
		{
			Library: "iiif",
			Match:   looksLikeManifest,
			ManifestURL: func(u *url.URL) (string, error) {
				return u.String(), nil
			},
		},
	}
}

func looksLikeManifest(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	if strings.HasSuffix(p, "manifest.json") || strings.HasSuffix(p, "/manifest") {
		return true
	}
	return strings.Contains(p, "/iiif/") && strings.HasSuffix(p, ".json")
}
