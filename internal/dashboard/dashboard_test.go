package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/xtreamgames/xsync/internal/engine"
)

type fakeStatus struct {
	report engine.StatusReport
	err    error
}

func (f fakeStatus) Status() (engine.StatusReport, error) {
	return f.report, f.err
}

func startServer(t *testing.T, source StatusSource) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:   0,
		Status: source,
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) (*websocket.Conn, Message) {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, readMessage(t, ctx, conn)
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
	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHelloMessage(t *testing.T) {
	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	server := startServer(t, fakeStatus{report: engine.StatusReport{
		State:      engine.Idle,
		Online:     true,
		LastSyncAt: last,
		CloudID:    "xtream_1700000000000_abcdefghi",
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, hello := dial(t, ctx, server)
	if hello.Type != MessageTypeHello {
		t.Fatalf("Expected hello, got %s", hello.Type)
	}

	var status StatusData
	if err := json.Unmarshal(hello.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if !status.Online || status.CloudID != "xtream_1700000000000_abcdefghi" || !status.LastSyncAt.Equal(last) {
		t.Errorf("Unexpected hello status: %+v", status)
	}
	if status.State != "idle" {
		t.Errorf("State = %q, want idle", status.State)
	}
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		dial(t, ctx, server)
	}
	waitForClients(t, server, 3)
}

func TestHandlerBroadcastsEvents(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := dial(t, ctx, server)
	waitForClients(t, server, 1)

	handler.OnSyncEvent(engine.Event{
		Type:    engine.EventSyncFailed,
		RunID:   "run-1",
		Op:      engine.OpBackup,
		Status:  engine.StatusFailed,
		Message: "Backup failed: network unreachable",
		Time:    time.Now(),
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageType(engine.EventSyncFailed) {
		t.Fatalf("Expected %s, got %s", engine.EventSyncFailed, msg.Type)
	}
	var ev engine.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	if ev.RunID != "run-1" || ev.Op != engine.OpBackup {
		t.Errorf("Unexpected event payload: %+v", ev)
	}

	stats := handler.Stats()
	if stats.Failed != 1 || stats.LastError != "Backup failed: network unreachable" {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHandlerStats(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	handler := NewHandler(server, nil)

	for _, typ := range []engine.EventType{
		engine.EventSyncStarted,
		engine.EventSyncSucceeded,
		engine.EventSyncStarted,
		engine.EventSyncFailed,
		engine.EventMutation,
		engine.EventMutation,
		engine.EventConnectivity,
	} {
		handler.OnSyncEvent(engine.Event{Type: typ})
	}

	got := handler.Stats()
	if got.Started != 2 || got.Succeeded != 1 || got.Failed != 1 || got.Mutations != 2 {
		t.Errorf("Unexpected counters: %+v", got)
	}
	if got.LastEvent != string(engine.EventConnectivity) {
		t.Errorf("LastEvent = %q", got.LastEvent)
	}
	if server.stats() != got {
		t.Error("server should report the handler's stats")
	}
}

func TestHTTPEndpoints(t *testing.T) {
	server := startServer(t, fakeStatus{report: engine.StatusReport{State: engine.Syncing, Online: false}})
	NewHandler(server, nil).OnSyncEvent(engine.Event{Type: engine.EventMutation})

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("Unexpected health response: %d %v", resp.StatusCode, health)
	}

	resp, err = http.Get("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	var status StatusData
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status.State != "syncing" || status.Online {
		t.Errorf("Unexpected status: %+v", status)
	}
	if status.Stats.Mutations != 1 {
		t.Errorf("Stats.Mutations = %d, want 1", status.Stats.Mutations)
	}

	resp, err = http.Get("http://" + server.Addr() + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d", resp.StatusCode)
	}
}

func TestStatusError(t *testing.T) {
	server := startServer(t, fakeStatus{err: errors.New("store closed")})

	resp, err := http.Get("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestBroadcastAfterStop(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	if err := server.Stop(); err != nil {
		t.Fatal(err)
	}
	// Must not block or panic.
	server.Broadcast(Message{Type: MessageTypeHello})
}

func TestStatusFunc(t *testing.T) {
	var calls atomic.Int32
	server := startServer(t, StatusFunc(func() (engine.StatusReport, error) {
		calls.Add(1)
		return engine.StatusReport{Online: true, CloudID: "xtream_1_a"}, nil
	}))

	resp, err := http.Get("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	var status StatusData
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()

	if calls.Load() != 1 || status.CloudID != "xtream_1_a" || !status.Online {
		t.Errorf("Unexpected status %+v after %d calls", status, calls.Load())
	}
}
