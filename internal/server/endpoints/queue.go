package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/queue"
)

// queueGroup nests queue commands under "scriptorium api queue".
type queueGroup struct{}

func (queueGroup) Group() string { return "queue" }

// GetQueueEndpoint handles GET /api/queue.
type GetQueueEndpoint struct{ queueGroup }

func (e *GetQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/queue", e.handler
}

func (e *GetQueueEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get queue state
//	@Description	Returns every job in priority order plus the processing flags and settings
//	@Tags			queue
//	@Produce		json
//	@Success		200	{object}	queue.State
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/queue [get]
func (e *GetQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, q.GetState())
}

func (e *GetQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var st queue.State
			if err := client.Get(cmd.Context(), "/api/queue", &st); err != nil {
				return err
			}
			return api.Output(st)
		},
	}
}

// QueueStatsEndpoint handles GET /api/queue/stats.
type QueueStatsEndpoint struct{ queueGroup }

func (e *QueueStatsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/queue/stats", e.handler
}

func (e *QueueStatsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Queue statistics
//	@Tags		queue
//	@Produce	json
//	@Success	200	{object}	queue.Statistics
//	@Failure	503	{object}	ErrorResponse
//	@Router		/api/queue/stats [get]
func (e *QueueStatsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, q.GetStatistics())
}

func (e *QueueStatsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var stats queue.Statistics
			if err := client.Get(cmd.Context(), "/api/queue/stats", &stats); err != nil {
				return err
			}
			if api.GetOutputFormat() == api.OutputFormatJSON {
				return api.Output(stats)
			}
			fmt.Printf("Total:       %d\n", stats.Total)
			fmt.Printf("Pending:     %d\n", stats.Pending)
			fmt.Printf("Downloading: %d\n", stats.Downloading)
			fmt.Printf("Paused:      %d\n", stats.Paused)
			fmt.Printf("Completed:   %d\n", stats.Completed)
			fmt.Printf("Failed:      %d\n", stats.Failed)
			return nil
		},
	}
}

// MoveRequest is the body of POST /api/queue/move.
type MoveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// MoveItemEndpoint handles POST /api/queue/move.
type MoveItemEndpoint struct{ queueGroup }

func (e *MoveItemEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/queue/move", e.handler
}

func (e *MoveItemEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Reorder a job
//	@Description	Moves the job at index from to index to
//	@Tags			queue
//	@Accept			json
//	@Produce		json
//	@Param			request	body		MoveRequest	true	"Indexes"
//	@Success		200		{object}	queue.State
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/queue/move [post]
func (e *MoveItemEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}
	if !q.MoveJob(req.From, req.To) {
		writeError(w, http.StatusBadRequest, "index out of range")
		return
	}
	writeJSON(w, http.StatusOK, q.GetState())
}

func (e *MoveItemEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "move <from> <to>",
		Short: "Move a job to a new position (0-based)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req MoveRequest
			if _, err := fmt.Sscan(args[0], &req.From); err != nil {
				return fmt.Errorf("invalid from index %q", args[0])
			}
			if _, err := fmt.Sscan(args[1], &req.To); err != nil {
				return fmt.Errorf("invalid to index %q", args[1])
			}
			client := api.NewClient(getServerURL())
			var st queue.State
			if err := client.Post(cmd.Context(), "/api/queue/move", req, &st); err != nil {
				return err
			}
			return api.Output(st)
		},
	}
}
