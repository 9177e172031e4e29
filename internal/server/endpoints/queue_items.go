package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/queue"
)

// decodeBody decodes a JSON request body or writes 400.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// AddItemRequest is the body of POST /api/queue/items.
type AddItemRequest struct {
	URL         string `json:"url"`
	DisplayName string `json:"displayName,omitempty"`
	Library     string `json:"library,omitempty"`
	TotalPages  int    `json:"totalPages,omitempty"`
	StartPage   int    `json:"startPage,omitempty"`
	EndPage     int    `json:"endPage,omitempty"`
}

// AddItemResponse is returned after adding a job.
type AddItemResponse struct {
	ID  string     `json:"id"`
	Job *queue.Job `json:"job"`
}

// AddItemEndpoint handles POST /api/queue/items.
type AddItemEndpoint struct{ queueGroup }

func (e *AddItemEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/queue/items", e.handler
}

func (e *AddItemEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Add a manuscript
//	@Description	Appends a pending job for the given viewer or manifest URL
//	@Tags			queue
//	@Accept			json
//	@Produce		json
//	@Param			request	body		AddItemRequest	true	"Job"
//	@Success		201		{object}	AddItemResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/queue/items [post]
func (e *AddItemEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.StartPage < 0 || req.EndPage < 0 || (req.EndPage > 0 && req.StartPage > req.EndPage) {
		writeError(w, http.StatusBadRequest, "invalid page range")
		return
	}
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}

	spec := queue.JobSpec{
		URL:         req.URL,
		DisplayName: req.DisplayName,
		Library:     req.Library,
		TotalPages:  req.TotalPages,
	}
	if req.StartPage > 0 || req.EndPage > 0 {
		spec.DownloadOptions = &queue.DownloadOptions{StartPage: req.StartPage, EndPage: req.EndPage}
	}
	id := q.AddJob(spec)
	job, _ := q.GetJob(id)
	writeJSON(w, http.StatusCreated, AddItemResponse{ID: id, Job: job})
}

func (e *AddItemEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req AddItemRequest
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Add a manuscript to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = args[0]
			client := api.NewClient(getServerURL())
			var resp AddItemResponse
			if err := client.Post(cmd.Context(), "/api/queue/items", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "Display name (default: derived from the URL)")
	cmd.Flags().IntVar(&req.StartPage, "start", 0, "First page to download (1-based)")
	cmd.Flags().IntVar(&req.EndPage, "end", 0, "Last page to download (inclusive)")
	return cmd
}

// GetItemEndpoint handles GET /api/queue/items/{id}.
type GetItemEndpoint struct{ queueGroup }

func (e *GetItemEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/queue/items/{id}", e.handler
}

func (e *GetItemEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a job
//	@Tags		queue
//	@Produce	json
//	@Param		id	path		string	true	"Job ID"
//	@Success	200	{object}	queue.Job
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/queue/items/{id} [get]
func (e *GetItemEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}
	job, found := q.GetJob(r.PathValue("id"))
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (e *GetItemEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "item <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var job queue.Job
			if err := client.Get(cmd.Context(), "/api/queue/items/"+args[0], &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
}

// UpdateItemEndpoint handles PATCH /api/queue/items/{id}.
type UpdateItemEndpoint struct{ queueGroup }

func (e *UpdateItemEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/queue/items/{id}", e.handler
}

func (e *UpdateItemEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Update a job
//	@Description	Merges the given fields into the job. Setting status to downloading, or changing the status of the active job, is rejected.
//	@Tags			queue
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Job ID"
//	@Param			request	body		queue.JobUpdate	true	"Fields to change"
//	@Success		200		{object}	queue.Job
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/queue/items/{id} [patch]
func (e *UpdateItemEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var u queue.JobUpdate
	if !decodeBody(w, r, &u) {
		return
	}
	if u.Status != nil && !u.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", *u.Status))
		return
	}
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if !q.UpdateJob(id, u) {
		itemConflict(w, q, id, "update rejected")
		return
	}
	job, _ := q.GetJob(id)
	writeJSON(w, http.StatusOK, job)
}

func (e *UpdateItemEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status, name string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u queue.JobUpdate
			if cmd.Flags().Changed("status") {
				s := queue.Status(status)
				u.Status = &s
			}
			if cmd.Flags().Changed("name") {
				u.DisplayName = &name
			}
			if u.Status == nil && u.DisplayName == nil {
				return fmt.Errorf("at least --status or --name must be specified")
			}
			client := api.NewClient(getServerURL())
			var job queue.Job
			if err := client.Patch(cmd.Context(), "/api/queue/items/"+args[0], u, &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "New status (pending, paused, completed, failed)")
	cmd.Flags().StringVar(&name, "name", "", "New display name")
	return cmd
}

// RemoveItemEndpoint handles DELETE /api/queue/items/{id}.
type RemoveItemEndpoint struct{ queueGroup }

func (e *RemoveItemEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/queue/items/{id}", e.handler
}

func (e *RemoveItemEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Remove a job
//	@Description	Removes a job, cancelling its transfer if it is downloading
//	@Tags			queue
//	@Param			id	path	string	true	"Job ID"
//	@Success		204	"No Content"
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/queue/items/{id} [delete]
func (e *RemoveItemEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}
	if !q.RemoveJob(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *RemoveItemEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/queue/items/"+args[0]); err != nil {
				return err
			}
			fmt.Println("Job removed")
			return nil
		},
	}
}

// ItemActionEndpoint handles POST /api/queue/items/{id}/pause and /resume.
type ItemActionEndpoint struct {
	queueGroup
	Action string // "pause" or "resume"
}

func (e *ItemActionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/queue/items/{id}/" + e.Action, e.handler
}

func (e *ItemActionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Pause or resume one job
//	@Description	pause interrupts the downloading job; resume makes a paused job pending again
//	@Tags			queue
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	queue.Job
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/queue/items/{id}/pause [post]
//	@Router			/api/queue/items/{id}/resume [post]
func (e *ItemActionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	var changed bool
	switch e.Action {
	case "pause":
		changed = q.PauseItem(id)
	case "resume":
		changed = q.ResumeItem(id)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if !changed {
		itemConflict(w, q, id, "job cannot be "+e.Action+"d in its current state")
		return
	}
	job, _ := q.GetJob(id)
	writeJSON(w, http.StatusOK, job)
}

func (e *ItemActionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   e.Action + "-item <id>",
		Short: strings.ToUpper(e.Action[:1]) + e.Action[1:] + " one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var job queue.Job
			if err := client.Post(cmd.Context(), "/api/queue/items/"+args[0]+"/"+e.Action, nil, &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
}

// itemConflict writes 404 for an unknown job and 409 otherwise.
func itemConflict(w http.ResponseWriter, q *queue.Queue, id, msg string) {
	if _, found := q.GetJob(id); !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeError(w, http.StatusConflict, msg)
}
