// Package svcctx carries the running services through request contexts.
// It is separate from server so endpoints can import it without a cycle.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/scriptorium/internal/config"
	"github.com/jackzampolin/scriptorium/internal/home"
	"github.com/jackzampolin/scriptorium/internal/queue"
	"github.com/jackzampolin/scriptorium/internal/stream"
)

// Services holds the core services available to handlers.
type Services struct {
	Queue     *queue.Queue
	Hub       *stream.Hub
	ConfigMgr *config.Manager
	Logger    *slog.Logger
	Home      *home.Dir

	// StoreBackend names the persistent store in use, for status output.
	StoreBackend string
}

type servicesKey struct{}

// WithServices returns a context carrying s.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom returns the services in ctx, or nil.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// QueueFrom returns the queue orchestrator from ctx.
func QueueFrom(ctx context.Context) *queue.Queue {
	if s := ServicesFrom(ctx); s != nil {
		return s.Queue
	}
	return nil
}

// HubFrom returns the stream hub from ctx.
func HubFrom(ctx context.Context) *stream.Hub {
	if s := ServicesFrom(ctx); s != nil {
		return s.Hub
	}
	return nil
}

// ConfigFrom returns the current configuration from ctx.
func ConfigFrom(ctx context.Context) *config.Config {
	if s := ServicesFrom(ctx); s != nil && s.ConfigMgr != nil {
		return s.ConfigMgr.Get()
	}
	return nil
}

// LoggerFrom returns the logger from ctx, falling back to slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom returns the home directory from ctx.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
