package queue

import (
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusLoading     Status = "loading" // manifest being resolved in the background
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusLoading, StatusDownloading, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// eligible reports whether the loop may pick a job in this status.
func (s Status) eligible() bool {
	return s == StatusPending || s == StatusLoading
}

const (
	// LibraryLoading is the placeholder library until a manifest resolves.
	LibraryLoading = "loading"

	// ETACalculating is shown before the first progress report.
	ETACalculating = "Calculating..."

	// StageDownloading is the initial progress stage.
	StageDownloading = "downloading"

	// StageExporting is reported while the artifact is being published.
	StageExporting = "exporting"
)

// Progress is present only while a job is downloading.
type Progress struct {
	Current           int    `json:"current"`
	Total             int    `json:"total"`
	Percentage        int    `json:"percentage"`
	ETA               string `json:"eta"`
	Stage             string `json:"stage"`
	ActualCurrentPage int    `json:"actualCurrentPage"`
}

// DownloadOptions restricts a download to an inclusive page range.
// Zero means "from the first page" / "to the last page".
type DownloadOptions struct {
	StartPage int `json:"startPage,omitempty"`
	EndPage   int `json:"endPage,omitempty"`
}

// Job is one manuscript download in the queue.
type Job struct {
	ID              string           `json:"id"`
	URL             string           `json:"url"`
	DisplayName     string           `json:"displayName"`
	Library         string           `json:"library"`
	TotalPages      int              `json:"totalPages"`
	Status          Status           `json:"status"`
	Progress        *Progress        `json:"progress,omitempty"`
	DownloadOptions *DownloadOptions `json:"downloadOptions,omitempty"`
	Error           string           `json:"error,omitempty"`
	AddedAt         time.Time        `json:"addedAt"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	OutputFile      string           `json:"outputFile,omitempty"`
	ExportLocation  string           `json:"exportLocation,omitempty"`
	ExportError     string           `json:"exportError,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	if j.DownloadOptions != nil {
		o := *j.DownloadOptions
		c.DownloadOptions = &o
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// GlobalSettings configure the processing loop.
// ConcurrentDownloads is stored and reported but jobs always run one at a time.
type GlobalSettings struct {
	AutoStart           bool `json:"autoStart"`
	ConcurrentDownloads int  `json:"concurrentDownloads"`
	PauseBetweenItems   int  `json:"pauseBetweenItems"` // seconds
}

// DefaultSettings returns the first-run settings.
func DefaultSettings() GlobalSettings {
	return GlobalSettings{
		AutoStart:           false,
		ConcurrentDownloads: 3,
		PauseBetweenItems:   0,
	}
}

func (s GlobalSettings) normalized() GlobalSettings {
	if s.ConcurrentDownloads < 1 {
		s.ConcurrentDownloads = 1
	}
	if s.PauseBetweenItems < 0 {
		s.PauseBetweenItems = 0
	}
	return s
}

// State is the full queue snapshot, persisted and sent to observers.
type State struct {
	Items          []*Job         `json:"items"`
	IsProcessing   bool           `json:"isProcessing"`
	IsPaused       bool           `json:"isPaused"`
	CurrentItemID  string         `json:"currentItemId,omitempty"`
	GlobalSettings GlobalSettings `json:"globalSettings"`
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := *s
	c.Items = make([]*Job, len(s.Items))
	for i, j := range s.Items {
		c.Items[i] = j.Clone()
	}
	return &c
}

// Statistics counts jobs by status. Pending includes loading.
type Statistics struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Paused      int `json:"paused"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}

// JobSpec is the input to AddJob.
type JobSpec struct {
	URL             string           `json:"url"`
	DisplayName     string           `json:"displayName,omitempty"`
	Library         string           `json:"library,omitempty"`
	TotalPages      int              `json:"totalPages,omitempty"`
	DownloadOptions *DownloadOptions `json:"downloadOptions,omitempty"`
}

// JobUpdate is a partial update for UpdateJob. Nil fields are left unchanged.
type JobUpdate struct {
	DisplayName     *string          `json:"displayName,omitempty"`
	Library         *string          `json:"library,omitempty"`
	TotalPages      *int             `json:"totalPages,omitempty"`
	Status          *Status          `json:"status,omitempty"`
	DownloadOptions *DownloadOptions `json:"downloadOptions,omitempty"`
	Error           *string          `json:"error,omitempty"`
}
