package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/folio-app/folio/internal/notify"
	"github.com/folio-app/folio/internal/watch"
)

func startTestServer(t *testing.T, status func() StatusData) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:   0,
		Status: status,
		Logger: log.New(io.Discard, "[test] ", log.LstdFlags),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestStatusOnConnect(t *testing.T) {
	server := startTestServer(t, func() StatusData {
		return StatusData{
			Workspace: "/ws",
			Watching:  map[string]string{"writings": "/ws/writings"},
			Entities:  map[string]int{"writings": 2},
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("Expected %s, got %s", MessageTypeStatus, msg.Type)
	}
	var status StatusData
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if status.Workspace != "/ws" || status.Entities["writings"] != 2 {
		t.Errorf("unexpected status: %+v", status)
	}

	waitForClients(t, server, 1)
}

func TestWatchHandlerBroadcasts(t *testing.T) {
	server := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := []*websocket.Conn{dial(t, ctx, server), dial(t, ctx, server)}
	for _, c := range conns {
		readMessage(t, ctx, c)
	}
	waitForClients(t, server, 2)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	handler := server.WatchHandler("posts")
	handler(watch.Event{Kind: watch.EventChange, Change: watch.ChangeEvent{
		Type: watch.ChangeChanged, EntityID: "p1", Path: "/ws/posts/p1", Timestamp: at,
	}})
	handler(watch.Event{Kind: watch.EventError, Error: watch.WatchError{
		Dir: "/ws/posts", Message: "permission denied", Timestamp: at,
	}})

	for i, c := range conns {
		msg := readMessage(t, ctx, c)
		if msg.Type != MessageTypeChange || !msg.Timestamp.Equal(at) {
			t.Fatalf("client %d: expected change at %v, got %+v", i, at, msg)
		}
		var change ChangeData
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			t.Fatalf("Failed to unmarshal change: %v", err)
		}
		want := ChangeData{Kind: "posts", Type: "changed", EntityID: "p1", Path: "/ws/posts/p1"}
		if change != want {
			t.Errorf("client %d: change = %+v, want %+v", i, change, want)
		}

		msg = readMessage(t, ctx, c)
		if msg.Type != MessageTypeWatchError {
			t.Fatalf("client %d: expected watch_error, got %s", i, msg.Type)
		}
	}
}

func TestNotifyAndSyncComplete(t *testing.T) {
	server := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	if err := server.Notify(ctx, notify.Notification{Title: "Item added", Body: "d1", Urgency: notify.UrgencyNormal}); err != nil {
		t.Fatalf("Notify() failed: %v", err)
	}
	server.SyncComplete(SyncCompleteData{Kind: "writings", Added: 1, Total: 1})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeNotification {
		t.Fatalf("expected notification, got %s", msg.Type)
	}
	var n notify.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		t.Fatalf("Failed to unmarshal notification: %v", err)
	}
	if n.Title != "Item added" || n.Urgency != notify.UrgencyNormal {
		t.Errorf("unexpected notification: %+v", n)
	}

	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("expected sync_complete, got %s", msg.Type)
	}
	var sc SyncCompleteData
	if err := json.Unmarshal(msg.Data, &sc); err != nil {
		t.Fatalf("Failed to unmarshal sync data: %v", err)
	}
	if sc.Kind != "writings" || sc.Added != 1 {
		t.Errorf("unexpected sync data: %+v", sc)
	}
}

func TestClientDisconnect(t *testing.T) {
	server := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, 0)
}

func TestSlowClientDoesNotBlockBroadcast(t *testing.T) {
	server := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slow := dial(t, ctx, server)
	readMessage(t, ctx, slow)
	fast := dial(t, ctx, server)
	readMessage(t, ctx, fast)
	waitForClients(t, server, 2)

	// The slow client stops reading; far more messages than its queue holds
	// must still be accepted without blocking.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < clientQueue*20; i++ {
			server.Notify(ctx, notify.Notification{Title: "burst"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}

	msg := readMessage(t, ctx, fast)
	if msg.Type != MessageTypeNotification {
		t.Errorf("fast client got %s, want %s", msg.Type, MessageTypeNotification)
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	// Keep reading so the close handshake completes.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if n := server.ClientCount(); n != 0 {
		t.Errorf("expected no clients after Stop, got %d", n)
	}
	if err := <-readErr; websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("expected going-away close, got %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}
