package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/stream"
	"github.com/jackzampolin/scriptorium/internal/svcctx"
)

// StreamEndpoint handles GET /api/queue/stream.
type StreamEndpoint struct{ queueGroup }

func (e *StreamEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/queue/stream", e.handler
}

func (e *StreamEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Stream queue state
//	@Description	WebSocket. Every message is {"type":"queue_state","state":{...}}
//	@Tags			queue
//	@Success		101
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/queue/stream [get]
func (e *StreamEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	hub := svcctx.HubFrom(r.Context())
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream not initialized")
		return
	}
	hub.ServeHTTP(w, r)
}

func (e *StreamEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print queue changes as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			url := "ws" + strings.TrimPrefix(getServerURL(), "http") + "/api/queue/stream"

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", url, err)
			}
			defer conn.Close()

			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			for {
				var msg stream.Message
				if err := conn.ReadJSON(&msg); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("stream closed: %w", err)
				}
				if msg.State == nil {
					continue
				}
				fmt.Print(formatState(msg))
			}
		},
	}
}

func formatState(msg stream.Message) string {
	var b strings.Builder
	st := msg.State
	fmt.Fprintf(&b, "--- processing=%t paused=%t jobs=%d\n", st.IsProcessing, st.IsPaused, len(st.Items))
	for _, j := range st.Items {
		line := fmt.Sprintf("%-11s %s", j.Status, j.DisplayName)
		if p := j.Progress; p != nil {
			line += fmt.Sprintf("  %d/%d (%d%%) eta %s", p.Current, p.Total, p.Percentage, p.ETA)
		}
		if j.Error != "" {
			line += "  error: " + j.Error
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
