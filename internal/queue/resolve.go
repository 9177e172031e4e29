package queue

import (
	"context"
)

// resolveInBackgroundLocked looks up the manifest of a freshly added job so
// its name and page count show up before processing reaches it. The job
// moves pending -> loading -> pending; a job that has meanwhile started
// downloading, been paused or been removed is left alone. Lookup failures
// are dropped: processing resolves again and records the real error.
// Caller must hold q.mu.
func (q *Queue) resolveInBackgroundLocked(id, rawURL string) {
	job := q.findLocked(id)
	if job == nil || job.Status != StatusPending {
		return
	}

	ctx, cancel := context.WithTimeout(q.baseCtx, resolveTimeout)
	q.resolving[id] = cancel
	job.Status = StatusLoading
	q.commitLocked()

	q.bg.Add(1)
	go func() {
		defer q.bg.Done()
		defer cancel()

		m, err := q.resolver.Resolve(ctx, rawURL)

		q.mu.Lock()
		defer q.mu.Unlock()

		delete(q.resolving, id)
		job := q.findLocked(id)
		if job == nil || job.Status != StatusLoading {
			return
		}
		job.Status = StatusPending
		if err != nil {
			q.logger.Debug("background manifest lookup failed", "id", id, "url", rawURL, "error", err)
		} else {
			job.TotalPages = pageTotal(m)
			if m.DisplayName != "" {
				job.DisplayName = m.DisplayName
			}
			if m.Library != "" {
				job.Library = m.Library
			}
		}
		q.commitLocked()
	}()
}
