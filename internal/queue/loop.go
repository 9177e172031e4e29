package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/jackzampolin/scriptorium/internal/fetch"
	"github.com/jackzampolin/scriptorium/internal/manifest"
)

var (
	// ErrNoPages is recorded when a manifest lists no pages.
	ErrNoPages = errors.New("manifest has no pages")

	// ErrInvalidRange is recorded when downloadOptions select no pages.
	ErrInvalidRange = errors.New("invalid page range")
)

// StartProcessing starts the processing loop. It returns false when a loop
// is already running.
func (q *Queue) StartProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state.IsProcessing {
		return false
	}
	q.startLocked()
	return true
}

func (q *Queue) startLocked() {
	ctx, cancel := context.WithCancel(q.baseCtx)
	s := &session{cancel: cancel, done: make(chan struct{})}
	prev := q.lastDone

	q.session = s
	q.lastDone = s.done
	q.state.IsProcessing = true
	q.state.IsPaused = false
	q.commitLocked()
	q.logger.Info("processing started")

	go func() {
		// A stopped session may still be unwinding its last job.
		if prev != nil {
			<-prev
		}
		q.run(ctx, s)
	}()
}

// StopProcessing halts the loop and interrupts the active job, which ends up
// paused. It returns false when the loop was not running.
func (q *Queue) StopProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.state.IsProcessing {
		return false
	}
	q.stopLocked()
	q.commitLocked()
	q.logger.Info("processing stopped")
	return true
}

func (q *Queue) stopLocked() {
	if q.session != nil {
		q.session.cancel()
		q.session = nil
	}
	if q.activeID != "" {
		if job := q.findLocked(q.activeID); job != nil && job.Status == StatusDownloading {
			job.Status = StatusPaused
			job.Progress = nil
		}
		q.cancelActiveLocked()
	}
	q.state.IsProcessing = false
	q.state.IsPaused = false
	q.state.CurrentItemID = ""
}

func (q *Queue) cancelActiveLocked() {
	if q.jobCancel != nil {
		q.jobCancel()
	}
}

// PauseProcessing stops the loop from picking new jobs. The job that is
// downloading keeps running.
func (q *Queue) PauseProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.state.IsProcessing || q.state.IsPaused {
		return false
	}
	q.state.IsPaused = true
	q.commitLocked()
	q.logger.Info("processing paused")
	return true
}

// ResumeProcessing lets a paused loop pick jobs again.
func (q *Queue) ResumeProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.state.IsPaused {
		return false
	}
	q.state.IsPaused = false
	q.commitLocked()
	q.logger.Info("processing resumed")

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Wait blocks until the most recent processing loop has exited.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	done := q.lastDone
	q.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// idle waits for d, a wake signal or cancellation. It returns false when
// ctx was cancelled.
func (q *Queue) idle(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-q.wake:
		return true
	case <-t.C:
		return true
	}
}

// sleepCtx waits for d. It returns false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// pageTotal is the number of pages that can actually be fetched.
func pageTotal(m *manifest.Manifest) int {
	if m.TotalPages <= 0 || m.TotalPages > len(m.PageLinks) {
		return len(m.PageLinks)
	}
	return m.TotalPages
}

func (q *Queue) run(ctx context.Context, s *session) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("processing loop crashed", "panic", r)
		}

		q.mu.Lock()
		q.endSessionLocked(s)
		q.mu.Unlock()

		s.cancel()
		close(s.done)
		q.logger.Info("processing loop exited")
	}()

	for {
		q.mu.Lock()
		if q.session != s || ctx.Err() != nil {
			q.mu.Unlock()
			return
		}

		var next *Job
		for _, j := range q.state.Items {
			if j.Status.eligible() {
				next = j
				break
			}
		}
		if next == nil {
			// Reset before unlocking so a later AddJob can restart the loop.
			q.endSessionLocked(s)
			q.mu.Unlock()
			q.logger.Info("queue drained")
			return
		}

		if q.state.IsPaused {
			q.mu.Unlock()
			if !q.idle(ctx, q.idlePoll) {
				return
			}
			continue
		}

		id := next.ID
		q.mu.Unlock()

		q.processItem(ctx, id)

		q.mu.Lock()
		pause := time.Duration(q.state.GlobalSettings.PauseBetweenItems) * time.Second
		q.mu.Unlock()
		if pause > 0 && !sleepCtx(ctx, pause) {
			return
		}
	}
}

// endSessionLocked marks processing stopped if s is still the live session.
func (q *Queue) endSessionLocked(s *session) {
	if q.session != s {
		return
	}
	q.session = nil
	q.state.IsProcessing = false
	q.state.IsPaused = false
	q.state.CurrentItemID = ""
	q.commitLocked()
}

// pageRange computes the inclusive 1-based page range to download.
func pageRange(totalPages int, opts *DownloadOptions) (start, end int, err error) {
	if totalPages <= 0 {
		return 0, 0, ErrNoPages
	}
	start, end = 1, totalPages
	if opts != nil {
		if opts.StartPage > 1 {
			start = opts.StartPage
		}
		if opts.EndPage > 0 && opts.EndPage < totalPages {
			end = opts.EndPage
		}
	}
	if start > end {
		return 0, 0, fmt.Errorf("%w: pages %d-%d of %d", ErrInvalidRange, start, end, totalPages)
	}
	return start, end, nil
}

// attempt carries the result of one processItem run to finish.
type attempt struct {
	ctx            context.Context
	artifact       *fetch.Artifact
	exportLocation string
	exportErr      error
	err            error
}

func (q *Queue) processItem(sessCtx context.Context, id string) {
	q.mu.Lock()
	job := q.findLocked(id)
	if job == nil || !job.Status.eligible() {
		q.mu.Unlock()
		return
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if q.jobTimeout > 0 {
		ctx, cancel = context.WithTimeout(sessCtx, q.jobTimeout)
	} else {
		ctx, cancel = context.WithCancel(sessCtx)
	}
	defer cancel()

	if c, ok := q.resolving[id]; ok {
		c()
		delete(q.resolving, id)
	}

	now := q.now()
	total := job.TotalPages
	if total < 1 {
		total = 1
	}
	job.Status = StatusDownloading
	job.StartedAt = &now
	job.Error = ""
	job.ExportError = ""
	job.Progress = &Progress{
		Current:    0,
		Total:      total,
		Percentage: 0,
		ETA:        ETACalculating,
		Stage:      StageDownloading,
	}
	q.activeID = id
	q.jobCancel = cancel
	q.state.CurrentItemID = id
	q.lastProgressAt = time.Time{}
	q.lastPercentage = 0

	rawURL := job.URL
	var opts *DownloadOptions
	if job.DownloadOptions != nil {
		o := *job.DownloadOptions
		opts = &o
	}
	q.commitLocked()
	q.mu.Unlock()

	q.logger.Info("job started", "id", id, "url", rawURL)

	res := attempt{ctx: ctx}
	res.artifact, res.exportLocation, res.exportErr, res.err = q.execute(ctx, id, rawURL, opts)
	q.finish(id, res)
}

// execute resolves, downloads and optionally exports one job. Panics from
// collaborators are converted to errors.
func (q *Queue) execute(ctx context.Context, id, rawURL string, opts *DownloadOptions) (art *fetch.Artifact, loc string, exportErr, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("download crashed: %v", r)
		}
	}()

	m, err := q.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, "", nil, err
	}

	links := m.PageLinks
	start, end, err := pageRange(pageTotal(m), opts)
	if !q.applyManifest(id, m, start, end) {
		return nil, "", nil, context.Canceled
	}
	if err != nil {
		return nil, "", nil, err
	}
	pageCount := end - start + 1

	outPath := q.outputPath(id, m.DisplayName)
	art, err = q.downloader.Download(ctx, fetch.Request{
		Pages:      links[start-1 : end],
		OutputPath: outPath,
	}, fetch.Callbacks{
		OnProgress: func(downloaded int, eta time.Duration) {
			q.onProgress(id, start, pageCount, downloaded, eta)
		},
		OnStatusChange: func(status string) {
			q.onStage(id, status)
		},
		OnError: func(msg string) {
			q.logger.Warn("download error", "id", id, "error", msg)
		},
	})
	if err != nil {
		return nil, "", nil, err
	}

	if q.publisher != nil {
		q.onStage(id, StageExporting)
		loc, exportErr = q.publisher.Publish(ctx, art.Path, id+"/"+filepath.Base(art.Path))
	}
	return art, loc, exportErr, nil
}

// applyManifest stores resolved manifest fields on the active job. It
// returns false when the job is no longer the one downloading.
func (q *Queue) applyManifest(id string, m *manifest.Manifest, start, end int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(id)
	if job == nil || job.Status != StatusDownloading || q.activeID != id {
		return false
	}
	job.TotalPages = pageTotal(m)
	if m.DisplayName != "" {
		job.DisplayName = m.DisplayName
	}
	if m.Library != "" {
		job.Library = m.Library
	}
	if job.Progress != nil && end >= start && start > 0 {
		job.Progress.Total = end - start + 1
	}
	q.commitLocked()
	q.logger.Info("manifest resolved", "id", id, "library", job.Library, "pages", job.TotalPages)
	return true
}

// onProgress translates downloader progress into job progress. Updates are
// dropped for a job that is no longer downloading and throttled otherwise.
func (q *Queue) onProgress(id string, startPage, pageCount, downloaded int, eta time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(id)
	if job == nil || job.Status != StatusDownloading || q.activeID != id || job.Progress == nil {
		return
	}

	pct := int(math.Round(float64(downloaded) / float64(pageCount) * 100))
	now := q.now()
	if now.Sub(q.lastProgressAt) < q.throttle && pct == q.lastPercentage {
		return
	}
	q.lastProgressAt = now
	q.lastPercentage = pct

	job.Progress = &Progress{
		Current:           downloaded,
		Total:             pageCount,
		Percentage:        pct,
		ETA:               FormatETA(eta),
		Stage:             job.Progress.Stage,
		ActualCurrentPage: startPage + downloaded - 1,
	}
	q.commitLocked()
	q.logger.Debug("job progress", "id", id, "pages", downloaded, "of", pageCount, "percentage", pct)
}

func (q *Queue) onStage(id, stage string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(id)
	if job == nil || job.Status != StatusDownloading || job.Progress == nil || job.Progress.Stage == stage {
		return
	}
	job.Progress.Stage = stage
	q.commitLocked()
}

func (q *Queue) finish(id string, res attempt) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.activeID == id {
		q.activeID = ""
		q.jobCancel = nil
	}
	if q.state.CurrentItemID == id {
		q.state.CurrentItemID = ""
	}

	job := q.findLocked(id)
	if job == nil {
		q.commitLocked()
		return
	}
	if job.Status != StatusDownloading {
		// Paused, stopped or edited while the transfer unwound.
		job.Progress = nil
		q.commitLocked()
		return
	}

	job.Progress = nil
	switch {
	case res.err == nil:
		now := q.now()
		job.Status = StatusCompleted
		job.CompletedAt = &now
		if res.artifact != nil {
			job.OutputFile = res.artifact.Path
		}
		job.ExportLocation = res.exportLocation
		if res.exportErr != nil {
			job.ExportError = res.exportErr.Error()
			q.logger.Error("export failed", "id", id, "error", res.exportErr)
		}
		q.logger.Info("job completed", "id", id, "output", job.OutputFile)
	case isCancellation(res.ctx, res.err):
		job.Status = StatusPaused
		q.logger.Info("job interrupted", "id", id)
	default:
		job.Status = StatusFailed
		job.Error = failureMessage(res.ctx, res.err)
		q.logger.Warn("job failed", "id", id, "error", job.Error)
	}
	q.commitLocked()
}

// isCancellation reports whether the job was deliberately interrupted.
// A per-job deadline is a failure, not a cancellation.
func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

func failureMessage(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "download timed out"
	}
	return err.Error()
}
