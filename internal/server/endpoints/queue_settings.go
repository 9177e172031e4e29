package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/queue"
)

// SettingsRequest is a partial update of the global settings.
type SettingsRequest struct {
	AutoStart           *bool `json:"autoStart,omitempty"`
	ConcurrentDownloads *int  `json:"concurrentDownloads,omitempty"`
	PauseBetweenItems   *int  `json:"pauseBetweenItems,omitempty"`
}

// GetSettingsEndpoint handles GET /api/queue/settings.
type GetSettingsEndpoint struct{ queueGroup }

func (e *GetSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/queue/settings", e.handler
}

func (e *GetSettingsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get global settings
//	@Tags		settings
//	@Produce	json
//	@Success	200	{object}	queue.GlobalSettings
//	@Router		/api/queue/settings [get]
func (e *GetSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, q.Settings())
}

func (e *GetSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show global settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var s queue.GlobalSettings
			if err := client.Get(cmd.Context(), "/api/queue/settings", &s); err != nil {
				return err
			}
			return api.Output(s)
		},
	}
}

// UpdateSettingsEndpoint handles PUT /api/queue/settings.
type UpdateSettingsEndpoint struct{ queueGroup }

func (e *UpdateSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/queue/settings", e.handler
}

func (e *UpdateSettingsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Update global settings
//	@Description	Fields left out keep their current value
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SettingsRequest	true	"Settings"
//	@Success		200		{object}	queue.GlobalSettings
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/queue/settings [put]
func (e *UpdateSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConcurrentDownloads != nil && *req.ConcurrentDownloads < 1 {
		writeError(w, http.StatusBadRequest, "concurrentDownloads must be at least 1")
		return
	}
	if req.PauseBetweenItems != nil && *req.PauseBetweenItems < 0 {
		writeError(w, http.StatusBadRequest, "pauseBetweenItems must not be negative")
		return
	}
	q, ok := queueFrom(w, r)
	if !ok {
		return
	}

	s := q.Settings()
	if req.AutoStart != nil {
		s.AutoStart = *req.AutoStart
	}
	if req.ConcurrentDownloads != nil {
		s.ConcurrentDownloads = *req.ConcurrentDownloads
	}
	if req.PauseBetweenItems != nil {
		s.PauseBetweenItems = *req.PauseBetweenItems
	}
	writeJSON(w, http.StatusOK, q.UpdateSettings(s))
}

func (e *UpdateSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		autoStart  bool
		concurrent int
		pause      int
	)
	cmd := &cobra.Command{
		Use:   "set-settings",
		Short: "Change global settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req SettingsRequest
			if cmd.Flags().Changed("auto-start") {
				req.AutoStart = &autoStart
			}
			if cmd.Flags().Changed("concurrent") {
				req.ConcurrentDownloads = &concurrent
			}
			if cmd.Flags().Changed("pause-between") {
				req.PauseBetweenItems = &pause
			}
			client := api.NewClient(getServerURL())
			var s queue.GlobalSettings
			if err := client.Put(cmd.Context(), "/api/queue/settings", req, &s); err != nil {
				return err
			}
			return api.Output(s)
		},
	}
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "Start processing when a job is added")
	cmd.Flags().IntVar(&concurrent, "concurrent", 3, "Concurrent downloads setting")
	cmd.Flags().IntVar(&pause, "pause-between", 0, "Seconds to wait between jobs")
	return cmd
}
