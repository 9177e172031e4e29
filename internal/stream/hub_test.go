package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackzampolin/scriptorium/internal/queue"
)

type fakeSource struct {
	ch           chan *queue.State
	unsubscribed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *queue.State, 1), unsubscribed: make(chan struct{})}
}

func (f *fakeSource) Subscribe() (<-chan *queue.State, func()) {
	return f.ch, func() { close(f.unsubscribed) }
}

func state(ids ...string) *queue.State {
	st := &queue.State{Items: []*queue.Job{}, GlobalSettings: queue.DefaultSettings()}
	for _, id := range ids {
		st.Items = append(st.Items, &queue.Job{ID: id, Status: queue.StatusPending})
	}
	return st
}

func startHub(t *testing.T, src *fakeSource) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	h := NewHub(Config{Source: src})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message %s: %v", data, err)
	}
	return msg
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsState(t *testing.T) {
	src := newFakeSource()
	h, srv, _ := startHub(t, src)

	a := dial(t, srv)
	b := dial(t, srv)
	waitClients(t, h, 2)

	src.ch <- state("one", "two")

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != MessageQueueState {
			t.Errorf("type = %q", msg.Type)
		}
		if msg.State == nil || len(msg.State.Items) != 2 || msg.State.Items[1].ID != "two" {
			t.Errorf("state = %+v", msg.State)
		}
	}
}

func TestHub_NewClientGetsLatest(t *testing.T) {
	src := newFakeSource()
	h, srv, _ := startHub(t, src)

	first := dial(t, srv)
	waitClients(t, h, 1)
	src.ch <- state("x")
	readMessage(t, first)

	late := dial(t, srv)
	msg := readMessage(t, late)
	if len(msg.State.Items) != 1 || msg.State.Items[0].ID != "x" {
		t.Errorf("late client state = %+v", msg.State)
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	src := newFakeSource()
	h, srv, _ := startHub(t, src)

	conn := dial(t, srv)
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)
}

func TestHub_DropsSlowClient(t *testing.T) {
	src := newFakeSource()
	h := NewHub(Config{Source: src})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &client{hub: h, send: make(chan []byte)}
	h.register <- slow
	waitClients(t, h, 1)

	src.ch <- state("a")
	waitClients(t, h, 0)

	if _, ok := <-slow.send; ok {
		t.Error("slow client's channel should be closed")
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	src := newFakeSource()
	h, srv, cancel := startHub(t, src)

	conn := dial(t, srv)
	waitClients(t, h, 1)
	cancel()

	select {
	case <-src.unsubscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not unsubscribe")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to close")
	}
}
