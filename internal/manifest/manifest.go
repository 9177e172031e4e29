// Package manifest resolves a manuscript viewer URL into the ordered list of
// page image URLs that make up the manuscript.
package manifest

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported is returned when no rule recognizes a URL.
	ErrUnsupported = errors.New("unsupported library URL")

	// ErrNoCanvases is returned when a manifest parses but lists no pages.
	ErrNoCanvases = errors.New("manifest contains no pages")
)

// Manifest is the resolved description of one manuscript.
type Manifest struct {
	TotalPages  int      `json:"totalPages"`
	DisplayName string   `json:"displayName"`
	Library     string   `json:"library"`
	PageLinks   []string `json:"pageLinks"`
}

// Resolver turns a manuscript URL into a Manifest.
type Resolver interface {
	Resolve(ctx context.Context, url string) (*Manifest, error)
}
