package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/queue"
)

// controlActions maps a loop action to the queue call and the reason it
// can be refused.
var controlActions = map[string]struct {
	short    string
	call     func(*queue.Queue) bool
	conflict string
}{
	"start":  {"Start processing the queue", (*queue.Queue).StartProcessing, "already processing"},
	"stop":   {"Stop processing and pause the active job", (*queue.Queue).StopProcessing, "not processing"},
	"pause":  {"Stop picking new jobs after the current one", (*queue.Queue).PauseProcessing, "not processing or already paused"},
	"resume": {"Resume picking jobs", (*queue.Queue).ResumeProcessing, "not paused"},
}

// ControlEndpoint handles POST /api/queue/{start,stop,pause,resume}.
type ControlEndpoint struct {
	queueGroup
	Action string
}

func (e *ControlEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/queue/" + e.Action, e.handler
}

func (e *ControlEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Control the processing loop
//	@Description	start, stop, pause or resume processing
//	@Tags			queue
//	@Produce		json
//	@Success		200	{object}	queue.State
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/queue/start [post]
//	@Router			/api/queue/stop [post]
//	@Router			/api/queue/pause [post]
//	@Router			/api/queue/resume [post]
func (e *ControlEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	action, known := controlActions[e.Action]
	if !known {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}
	if !action.call(q) {
		writeError(w, http.StatusConflict, action.conflict)
		return
	}
	writeJSON(w, http.StatusOK, q.GetState())
}

func (e *ControlEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   e.Action,
		Short: controlActions[e.Action].short,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var st queue.State
			if err := client.Post(cmd.Context(), "/api/queue/"+e.Action, nil, &st); err != nil {
				return err
			}
			fmt.Printf("processing=%t paused=%t current=%s\n", st.IsProcessing, st.IsPaused, st.CurrentItemID)
			return nil
		},
	}
}

// ClearResponse reports how many jobs were removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// ClearEndpoint handles POST /api/queue/clear?status=completed|failed|all.
type ClearEndpoint struct{ queueGroup }

func (e *ClearEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/queue/clear", e.handler
}

func (e *ClearEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Clear jobs
//	@Description	Removes completed or failed jobs, or everything (which also stops processing)
//	@Tags			queue
//	@Produce		json
//	@Param			status	query		string	true	"completed, failed or all"
//	@Success		200		{object}	ClearResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/queue/clear [post]
func (e *ClearEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	var clear func(*queue.Queue) int
	switch status {
	case "completed":
		clear = (*queue.Queue).ClearCompleted
	case "failed":
		clear = (*queue.Queue).ClearFailed
	case "all":
		clear = (*queue.Queue).ClearAll
	default:
		writeError(w, http.StatusBadRequest, "status must be completed, failed or all")
		return
	}
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{Removed: clear(q)})
}

func (e *ClearEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed, failed or all jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ClearResponse
			if err := client.Post(cmd.Context(), "/api/queue/clear?status="+status, nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Removed %d job(s)\n", resp.Removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "completed", "completed, failed or all")
	return cmd
}
