// Package stream pushes queue state to WebSocket observers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackzampolin/scriptorium/internal/queue"
)

// MessageQueueState is the type of every message the hub sends.
const MessageQueueState = "queue_state"

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 16
	maxMessageSize    = 512
)

// Message is the envelope written to clients.
type Message struct {
	Type  string       `json:"type"`
	State *queue.State `json:"state"`
}

// Source produces queue snapshots. *queue.Queue satisfies it.
type Source interface {
	Subscribe() (<-chan *queue.State, func())
}

var _ Source = (*queue.Queue)(nil)

// Config configures a Hub.
type Config struct {
	Source Source

	WriteWait  time.Duration
	PongWait   time.Duration
	SendBuffer int

	// CheckOrigin defaults to allowing every origin.
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

// Hub fans queue snapshots out to connected clients. A client that cannot
// keep up is disconnected.
type Hub struct {
	source   Source
	upgrader websocket.Upgrader
	logger   *slog.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	sendBuffer int

	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
	latest  []byte
}

// NewHub creates a hub. Call Run to start it.
func NewHub(cfg Config) *Hub {
	h := &Hub{
		source:     cfg.Source,
		logger:     cfg.Logger,
		writeWait:  cfg.WriteWait,
		pongWait:   cfg.PongWait,
		sendBuffer: cfg.SendBuffer,
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.writeWait <= 0 {
		h.writeWait = defaultWriteWait
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongWait
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = defaultSendBuffer
	}
	h.pingPeriod = h.pongWait * 9 / 10

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return h
}

// Run subscribes to the source and serves clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	states, unsubscribe := h.source.Subscribe()
	defer unsubscribe()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			if h.latest != nil {
				c.send <- h.latest
			}
			h.mu.Unlock()
			h.logger.Debug("stream client connected", "clients", h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			data, err := json.Marshal(Message{Type: MessageQueueState, State: st})
			if err != nil {
				h.logger.Error("failed to encode queue state", "error", err)
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("dropping slow stream client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams state until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, h.sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
