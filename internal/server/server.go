// Package server runs the scriptorium HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/config"
	"github.com/jackzampolin/scriptorium/internal/container"
	"github.com/jackzampolin/scriptorium/internal/home"
	"github.com/jackzampolin/scriptorium/internal/queue"
	"github.com/jackzampolin/scriptorium/internal/server/endpoints"
	"github.com/jackzampolin/scriptorium/internal/stream"
	"github.com/jackzampolin/scriptorium/internal/svcctx"
)

const shutdownTimeout = 30 * time.Second

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the port to listen on (default: 8080). "0" picks a free port.
	Port string

	Queue *queue.Queue
	Hub   *stream.Hub

	// ConfigManager, when set, re-applies queue defaults on hot reload.
	ConfigManager *config.Manager
	Home          *home.Dir
	StoreBackend  string
	Container     *container.Manager

	SwaggerSpecPath string
	Logger          *slog.Logger
}

// Server serves the queue API and owns the lifecycle of the queue and the
// stream hub while it runs.
type Server struct {
	httpServer *http.Server
	queue      *queue.Queue
	hub        *stream.Hub
	logger     *slog.Logger
	services   *svcctx.Services
	registry   *api.Registry

	mu      sync.RWMutex
	running bool
	addr    string
}

// New creates a Server. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Queue == nil {
		return nil, errors.New("server requires a queue")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = stream.NewHub(stream.Config{Source: cfg.Queue, Logger: cfg.Logger})
	}

	s := &Server{
		queue:  cfg.Queue,
		hub:    cfg.Hub,
		logger: cfg.Logger,
		services: &svcctx.Services{
			Queue:        cfg.Queue,
			Hub:          cfg.Hub,
			ConfigMgr:    cfg.ConfigManager,
			Logger:       cfg.Logger,
			Home:         cfg.Home,
			StoreBackend: cfg.StoreBackend,
		},
	}

	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			settings := s.queue.Settings()
			settings.AutoStart = c.Queue.AutoStart
			settings.PauseBetweenItems = c.Queue.PauseBetweenItems
			s.queue.UpdateSettings(settings)
			s.logger.Info("queue settings reloaded from config",
				"auto_start", settings.AutoStart, "pause_between_items", settings.PauseBetweenItems)
		})
	}

	s.registry = api.NewRegistry()
	s.registry.Register(endpoints.All(endpoints.Config{
		Container:       cfg.Container,
		SwaggerSpecPath: cfg.SwaggerSpecPath,
	})...)

	mux := http.NewServeMux()
	s.registry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           s.withServices(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler with services attached.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down the HTTP server,
// the stream hub and the queue. When autoStart is set and work is pending,
// processing begins immediately.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()
	defer s.setNotRunning()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		s.hub.Run(hubCtx)
		close(hubDone)
	}()

	if s.queue.Settings().AutoStart && s.queue.GetStatistics().Pending > 0 {
		s.logger.Info("auto-starting processing")
		s.queue.StartProcessing()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	s.shutdown(stopHub, hubDone)
	return serveErr
}

func (s *Server) shutdown(stopHub context.CancelFunc, hubDone <-chan struct{}) {
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	stopHub()
	select {
	case <-hubDone:
	case <-ctx.Done():
	}

	if err := s.queue.Close(ctx); err != nil {
		s.logger.Error("queue shutdown error", "error", err)
	}
	s.logger.Info("server stopped")
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the listen address. After Start it is the bound address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return s.addr
	}
	return s.httpServer.Addr
}

// Registry returns the endpoint registry.
func (s *Server) Registry() *api.Registry {
	return s.registry
}

// withServices attaches the services to every request context.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), s.services)))
	})
}

// requireInit answers 503 until the queue is available.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil || s.services.Queue == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
