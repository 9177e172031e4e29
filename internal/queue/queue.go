// Package queue is the download queue orchestrator. It owns the ordered job
// list, drives one download at a time through the manifest resolver and the
// page fetcher, persists the full state after every mutation and pushes
// snapshots to subscribers.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/scriptorium/internal/export"
	"github.com/jackzampolin/scriptorium/internal/fetch"
	"github.com/jackzampolin/scriptorium/internal/manifest"
	"github.com/jackzampolin/scriptorium/internal/store"
)

const (
	defaultIdlePoll         = time.Second
	defaultThrottleInterval = 500 * time.Millisecond
	resolveTimeout          = 2 * time.Minute
	placeholderNameMax      = 60
)

// Config configures a Queue.
type Config struct {
	Store      store.Store
	Resolver   manifest.Resolver
	Downloader fetch.Downloader
	Publisher  export.Publisher // optional

	// OutputPath picks where a job's merged PDF is written.
	OutputPath func(id, displayName string) string

	// Settings are used when no state has been persisted yet.
	Settings *GlobalSettings

	IdlePoll         time.Duration // sleep while paused with work pending
	ThrottleInterval time.Duration // minimum gap between progress writes
	JobTimeout       time.Duration // 0 disables the per-job deadline
	ResolveOnAdd     bool

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// session is one run of the processing loop.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Queue is the orchestrator. Construct it with New.
type Queue struct {
	mu    sync.Mutex
	state State

	store      store.Store
	resolver   manifest.Resolver
	downloader fetch.Downloader
	publisher  export.Publisher
	outputPath func(id, displayName string) string

	idlePoll     time.Duration
	throttle     time.Duration
	jobTimeout   time.Duration
	resolveOnAdd bool

	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	baseCtx    context.Context
	baseCancel context.CancelFunc

	session  *session
	lastDone chan struct{}
	wake     chan struct{}

	activeID  string
	jobCancel context.CancelFunc

	lastProgressAt time.Time
	lastPercentage int

	resolving map[string]context.CancelFunc
	bg        sync.WaitGroup

	subs    map[int]chan *State
	nextSub int
}

// New creates a Queue and loads any persisted state.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errors.New("queue requires a store")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("queue requires a manifest resolver")
	}
	if cfg.Downloader == nil {
		return nil, errors.New("queue requires a downloader")
	}

	q := &Queue{
		store:        cfg.Store,
		resolver:     cfg.Resolver,
		downloader:   cfg.Downloader,
		publisher:    cfg.Publisher,
		outputPath:   cfg.OutputPath,
		idlePoll:     cfg.IdlePoll,
		throttle:     cfg.ThrottleInterval,
		jobTimeout:   cfg.JobTimeout,
		resolveOnAdd: cfg.ResolveOnAdd,
		logger:       cfg.Logger,
		now:          cfg.Now,
		newID:        cfg.NewID,
		wake:         make(chan struct{}, 1),
		resolving:    make(map[string]context.CancelFunc),
		subs:         make(map[int]chan *State),
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = uuid.NewString
	}
	if q.idlePoll <= 0 {
		q.idlePoll = defaultIdlePoll
	}
	if q.throttle <= 0 {
		q.throttle = defaultThrottleInterval
	}
	if q.outputPath == nil {
		dir := filepath.Join(os.TempDir(), "scriptorium")
		q.outputPath = func(id, _ string) string { return filepath.Join(dir, id+".pdf") }
	}

	settings := DefaultSettings()
	if cfg.Settings != nil {
		settings = cfg.Settings.normalized()
	}
	q.state = State{Items: []*Job{}, GlobalSettings: settings}

	if err := q.load(ctx); err != nil {
		return nil, err
	}
	q.baseCtx, q.baseCancel = context.WithCancel(context.Background())
	return q, nil
}

// placeholderName derives a display name from a URL until the manifest resolves.
func placeholderName(rawURL string) string {
	name := strings.TrimSpace(rawURL)
	for _, scheme := range []string{"https://", "http://"} {
		name = strings.TrimPrefix(name, scheme)
	}
	name = strings.TrimSuffix(name, "/")
	if r := []rune(name); len(r) > placeholderNameMax {
		name = string(r[:placeholderNameMax-3]) + "..."
	}
	return name
}

func (q *Queue) indexLocked(id string) int {
	for i, j := range q.state.Items {
		if j.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) findLocked(id string) *Job {
	if i := q.indexLocked(id); i >= 0 {
		return q.state.Items[i]
	}
	return nil
}

// commitLocked persists and then notifies. Caller must hold q.mu.
func (q *Queue) commitLocked() {
	q.persistLocked()
	q.notifyLocked()
}

// AddJob appends a pending job and returns its id.
func (q *Queue) AddJob(spec JobSpec) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &Job{
		ID:          q.newID(),
		URL:         strings.TrimSpace(spec.URL),
		DisplayName: spec.DisplayName,
		Library:     spec.Library,
		TotalPages:  spec.TotalPages,
		Status:      StatusPending,
		AddedAt:     q.now(),
	}
	if job.DisplayName == "" {
		job.DisplayName = placeholderName(job.URL)
	}
	if job.Library == "" {
		job.Library = LibraryLoading
	}
	if spec.DownloadOptions != nil {
		opts := *spec.DownloadOptions
		job.DownloadOptions = &opts
	}

	q.state.Items = append(q.state.Items, job)
	q.commitLocked()
	q.logger.Info("job added", "id", job.ID, "url", job.URL)

	if q.resolveOnAdd && job.Library == LibraryLoading {
		q.resolveInBackgroundLocked(job.ID, job.URL)
	}
	if q.state.GlobalSettings.AutoStart && !q.state.IsProcessing {
		q.startLocked()
	}
	return job.ID
}

// RemoveJob removes a job, cancelling its transfer first if it is active.
func (q *Queue) RemoveJob(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return false
	}

	if q.activeID == id {
		q.cancelActiveLocked()
		q.state.CurrentItemID = ""
	}
	if cancel, ok := q.resolving[id]; ok {
		cancel()
		delete(q.resolving, id)
	}

	q.state.Items = append(q.state.Items[:i], q.state.Items[i+1:]...)
	q.commitLocked()
	q.logger.Info("job removed", "id", id)
	return true
}

// MoveJob moves the job at from to index to. Out-of-range indexes are rejected.
func (q *Queue) MoveJob(from, to int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.state.Items)
	if from < 0 || from >= n || to < 0 || to >= n {
		return false
	}
	if from == to {
		return true
	}

	items := q.state.Items
	job := items[from]
	items = append(items[:from], items[from+1:]...)
	items = append(items[:to], append([]*Job{job}, items[to:]...)...)
	q.state.Items = items

	q.commitLocked()
	return true
}

// UpdateJob merges the non-nil fields of u into the job.
// It returns false for an unknown id, an invalid status, a status of
// downloading, or a status change on the job that is downloading now.
func (q *Queue) UpdateJob(id string, u JobUpdate) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(id)
	if job == nil {
		return false
	}
	if u.Status != nil {
		if !u.Status.Valid() || *u.Status == StatusDownloading {
			return false
		}
		if job.Status == StatusDownloading && *u.Status != StatusDownloading {
			return false
		}
	}

	if u.DisplayName != nil {
		job.DisplayName = *u.DisplayName
	}
	if u.Library != nil {
		job.Library = *u.Library
	}
	if u.TotalPages != nil && *u.TotalPages >= 0 {
		job.TotalPages = *u.TotalPages
	}
	if u.DownloadOptions != nil {
		opts := *u.DownloadOptions
		job.DownloadOptions = &opts
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	if u.Status != nil {
		job.Status = *u.Status
		job.Progress = nil
	}
	if job.Status != StatusFailed {
		job.Error = ""
	}

	q.commitLocked()
	return true
}

func (q *Queue) clearLocked(keep func(*Job) bool) int {
	kept := make([]*Job, 0, len(q.state.Items))
	for _, j := range q.state.Items {
		if keep(j) {
			kept = append(kept, j)
		}
	}
	removed := len(q.state.Items) - len(kept)
	if removed > 0 {
		q.state.Items = kept
		q.commitLocked()
	}
	return removed
}

// ClearCompleted removes completed jobs and returns how many were removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clearLocked(func(j *Job) bool { return j.Status != StatusCompleted })
}

// ClearFailed removes failed jobs and returns how many were removed.
func (q *Queue) ClearFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clearLocked(func(j *Job) bool { return j.Status != StatusFailed })
}

// ClearAll stops processing and removes every job.
func (q *Queue) ClearAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopLocked()
	for id, cancel := range q.resolving {
		cancel()
		delete(q.resolving, id)
	}

	n := len(q.state.Items)
	q.state.Items = []*Job{}
	q.commitLocked()
	q.logger.Info("queue cleared", "removed", n)
	return n
}

// PauseItem interrupts the job that is downloading now and marks it paused.
func (q *Queue) PauseItem(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(id)
	if job == nil || job.Status != StatusDownloading {
		return false
	}
	if q.activeID == id {
		q.cancelActiveLocked()
	}
	job.Status = StatusPaused
	job.Progress = nil
	if q.state.CurrentItemID == id {
		q.state.CurrentItemID = ""
	}

	q.commitLocked()
	q.logger.Info("job paused", "id", id)
	return true
}

// ResumeItem makes a paused job eligible for processing again.
func (q *Queue) ResumeItem(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(id)
	if job == nil || job.Status != StatusPaused {
		return false
	}
	job.Status = StatusPending
	job.Progress = nil
	job.Error = ""

	q.commitLocked()
	q.logger.Info("job resumed", "id", id)
	return true
}

// GetState returns a deep copy of the current state.
func (q *Queue) GetState() *State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.Clone()
}

// GetJob returns a copy of one job.
func (q *Queue) GetJob(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.findLocked(id)
	if job == nil {
		return nil, false
	}
	return job.Clone(), true
}

// GetStatistics counts jobs by status.
func (q *Queue) GetStatistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Statistics
	s.Total = len(q.state.Items)
	for _, j := range q.state.Items {
		switch j.Status {
		case StatusPending, StatusLoading:
			s.Pending++
		case StatusDownloading:
			s.Downloading++
		case StatusPaused:
			s.Paused++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// UpdateSettings replaces the global settings and returns the stored values.
func (q *Queue) UpdateSettings(s GlobalSettings) GlobalSettings {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.state.GlobalSettings = s.normalized()
	q.commitLocked()
	return q.state.GlobalSettings
}

// Settings returns the current global settings.
func (q *Queue) Settings() GlobalSettings {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.GlobalSettings
}

// Close stops processing, cancels background manifest lookups and waits for
// the loop to exit or ctx to end. The store is left open.
func (q *Queue) Close(ctx context.Context) error {
	q.StopProcessing()
	q.baseCancel()

	if err := q.Wait(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		q.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
