package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"AI-Adventure/server/internal/engine"
)

func newHubServer(t *testing.T, hub *SessionHub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach("s1", conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitForClients(t *testing.T, hub *SessionHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubForgetsClientsThatDropAtOnce(t *testing.T) {
	hub := NewSessionHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	url := newHubServer(t, hub)

	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		_ = conn.Close()
	}
	waitForClients(t, hub, 0)

	// nothing registers late
	time.Sleep(50 * time.Millisecond)
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("clients after settle = %d", n)
	}
}

func TestHubDeliversToSessionOnly(t *testing.T) {
	hub := NewSessionHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	url := newHubServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Notify(engine.Event{Type: engine.EventTurnCommitted, SessionID: "other", Turn: 1})
	hub.Notify(engine.Event{Type: engine.EventTurnCommitted, SessionID: "s1", Turn: 2})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event engine.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != engine.EventTurnCommitted || event.Turn != 2 {
		t.Errorf("event = %+v", event)
	}
}

func TestAttachAfterStop(t *testing.T) {
	hub := NewSessionHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	url := newHubServer(t, hub)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection stayed open after the hub stopped")
	}
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("clients = %d", n)
	}
}
