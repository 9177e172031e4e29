package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Registry resolves URLs by matching them against an ordered rule list and
// fetching the matched library's IIIF manifest.
type Registry struct {
	rules  []Rule
	client *IIIFClient
	logger *slog.Logger
}

// NewRegistry creates a Registry. When rules is empty, DefaultRules is used.
func NewRegistry(client *IIIFClient, logger *slog.Logger, rules ...Rule) *Registry {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = NewIIIFClient(IIIFConfig{Logger: logger})
	}
	return &Registry{rules: rules, client: client, logger: logger}
}

// Libraries lists the library identifiers this registry recognizes.
func (r *Registry) Libraries() []string {
	out := make([]string, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.Library
	}
	return out
}

// Match returns the rule and manifest URL for rawURL.
func (r *Registry) Match(rawURL string) (Rule, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return Rule{}, "", fmt.Errorf("%w: %q is not an absolute URL", ErrUnsupported, rawURL)
	}
	for _, rule := range r.rules {
		if !rule.Match(u) {
			continue
		}
		manifestURL, err := rule.ManifestURL(u)
		if err != nil {
			return Rule{}, "", err
		}
		return rule, manifestURL, nil
	}
	return Rule{}, "", fmt.Errorf("%w: %s", ErrUnsupported, u.Host)
}

// Resolve implements Resolver.
func (r *Registry) Resolve(ctx context.Context, rawURL string) (*Manifest, error) {
	rule, manifestURL, err := r.Match(rawURL)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resolving manifest", "url", rawURL, "library", rule.Library, "manifest", manifestURL)

	m, err := r.client.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	m.Library = rule.Library
	if m.DisplayName == "" {
		m.DisplayName = rawURL
	}

	r.logger.Info("manifest resolved", "url", rawURL, "library", m.Library, "pages", m.TotalPages)
	return m, nil
}
