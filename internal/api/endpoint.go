package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs an HTTP route with the CLI command that calls it.
type Endpoint interface {
	// Route returns the HTTP method, path and handler.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the queue to be ready.
	RequiresInit() bool

	// Command returns a cobra command that calls the endpoint over HTTP.
	// getServerURL is evaluated when the command runs.
	Command(getServerURL func() string) *cobra.Command
}

// Grouped endpoints are nested under a parent command named by Group,
// e.g. "scriptorium api queue add".
type Grouped interface {
	Group() string
}
