package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/container"
	"github.com/jackzampolin/scriptorium/internal/queue"
	"github.com/jackzampolin/scriptorium/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Queue  string `json:"queue,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Health check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Queue: "ok"}
	if svcctx.QueueFrom(r.Context()) == nil {
		resp.Queue = "not_initialized"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			fmt.Printf("Queue:  %s\n", resp.Queue)
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server  string            `json:"server"`
	Store   StoreStatus       `json:"store"`
	Queue   *queue.Statistics `json:"queue,omitempty"`
	Loop    LoopStatus        `json:"loop"`
	Clients int               `json:"streamClients"`
}

// StoreStatus describes the persistent store.
type StoreStatus struct {
	Backend   string `json:"backend"`
	Container string `json:"container,omitempty"`
}

// LoopStatus mirrors the processing flags of the queue state.
type LoopStatus struct {
	Processing    bool   `json:"processing"`
	Paused        bool   `json:"paused"`
	CurrentItemID string `json:"currentItemId,omitempty"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct {
	// Container is the managed store container, when one is used.
	Container *container.Manager
}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Server status
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Server: "running"}

	if s := svcctx.ServicesFrom(r.Context()); s != nil {
		resp.Store.Backend = s.StoreBackend
	}
	if e.Container != nil {
		status, err := e.Container.Status(r.Context())
		if err != nil {
			resp.Store.Container = "error"
		} else {
			resp.Store.Container = string(status)
		}
	}

	if q := svcctx.QueueFrom(r.Context()); q != nil {
		stats := q.GetStatistics()
		resp.Queue = &stats
		st := q.GetState()
		resp.Loop = LoopStatus{Processing: st.IsProcessing, Paused: st.IsPaused, CurrentItemID: st.CurrentItemID}
	}
	if hub := svcctx.HubFrom(r.Context()); hub != nil {
		resp.Clients = hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// queueFrom returns the queue or writes 503.
func queueFrom(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	q := svcctx.QueueFrom(r.Context())
	if q == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not initialized")
		return nil, false
	}
	return q, true
}
