// Package fetch downloads manuscript page images and merges them into a
// single PDF.
//
// Every network wait honours the context passed to Download, so cancelling
// it stops the transfer at the next request boundary.
package fetch

import (
	"context"
	"errors"
	"time"
)

// ErrNoPages is returned when a Request carries no page URLs.
var ErrNoPages = errors.New("no pages to download")

// Status values passed to Callbacks.OnStatusChange.
const (
	StatusDownloading = "downloading"
	StatusMerging     = "merging"
	StatusDone        = "done"
)

// Request describes one download.
type Request struct {
	Pages      []string
	OutputPath string
}

// Callbacks receive progress from a running download. Any field may be nil.
// OnProgress calls are serialized and their counts never decrease.
type Callbacks struct {
	OnProgress     func(downloadedPages int, eta time.Duration)
	OnStatusChange func(status string)
	OnError        func(message string)
}

func (c Callbacks) progress(n int, eta time.Duration) {
	if c.OnProgress != nil {
		c.OnProgress(n, eta)
	}
}

func (c Callbacks) status(s string) {
	if c.OnStatusChange != nil {
		c.OnStatusChange(s)
	}
}

func (c Callbacks) fail(msg string) {
	if c.OnError != nil {
		c.OnError(msg)
	}
}

// Artifact is the merged output of a download.
type Artifact struct {
	Path  string `json:"path"`
	Pages int    `json:"pages"`
	Bytes int64  `json:"bytes"`
}

// Downloader fetches pages and produces an Artifact.
type Downloader interface {
	Download(ctx context.Context, req Request, cb Callbacks) (*Artifact, error)
}

// EstimateRemaining extrapolates the time left from the average time per
// completed page.
func EstimateRemaining(elapsed time.Duration, done, total int) time.Duration {
	if done <= 0 || total <= done {
		return 0
	}
	perPage := elapsed / time.Duration(done)
	return perPage * time.Duration(total-done)
}
