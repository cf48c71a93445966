package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Mschirtzinger/fundsync/internal/keys"
	"github.com/Mschirtzinger/fundsync/internal/status"
	"github.com/Mschirtzinger/fundsync/internal/store/local"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Host:   "127.0.0.1",
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})
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

func waitClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeEntries struct {
	entries []local.Entry
	err     error
}

func (f fakeEntries) Entries() ([]local.Entry, error) {
	return f.entries, f.err
}

func TestServerStartStop(t *testing.T) {
	server := startServer(t)

	if addr := server.GetAddr(); addr == "" || addr == "127.0.0.1:0" {
		t.Fatalf("Server address not resolved: %q", addr)
	}
}

func TestStopWithoutStart(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	if err := server.Stop(); err != nil {
		t.Errorf("Stop before Start failed: %v", err)
	}
}

func TestSnapshotOnConnect(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, fakeEntries{entries: []local.Entry{{Key: keys.Favorites, Size: 9}}}, log.New(io.Discard, "", 0))
	h.OnStatus(status.Finished(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), true))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSnapshot {
		t.Fatalf("Expected %s, got %s", MessageTypeSnapshot, msg.Type)
	}

	var snap Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.Stats.Succeeded != 1 {
		t.Errorf("Expected 1 succeeded pass, got %+v", snap.Stats)
	}
	if snap.Status.LastSyncTime == nil || snap.Status.Syncing {
		t.Errorf("Unexpected status in snapshot: %+v", snap.Status)
	}
	if len(snap.Keys) != 1 || snap.Keys[0].Key != keys.Favorites {
		t.Errorf("Unexpected keys in snapshot: %+v", snap.Keys)
	}
}

func TestMultipleClientsReceiveStatus(t *testing.T) {
	server := startServer(t)
	bus := status.NewBus(log.New(io.Discard, "", 0))
	h := NewHandler(server, nil, log.New(io.Discard, "", 0))
	defer h.Attach(bus)()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const numClients = 3
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i] = dial(t, ctx, server)
		if msg := readMessage(t, ctx, conns[i]); msg.Type != MessageTypeSnapshot {
			t.Fatalf("client %d: expected snapshot, got %s", i, msg.Type)
		}
	}
	waitClients(t, server, numClients)

	bus.Publish(status.Started())

	for i, conn := range conns {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeStatus {
			t.Fatalf("client %d: expected status, got %s", i, msg.Type)
		}
		var st status.Status
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatalf("client %d: bad status payload: %v", i, err)
		}
		if !st.Syncing {
			t.Errorf("client %d: expected syncing status", i)
		}
	}
}

func TestFinishedPassBroadcastsStats(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, nil, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)
	waitClients(t, server, 1)

	h.OnStatus(status.Failed(nil, errors.New("offline")))

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStatus {
		t.Fatalf("Expected status, got %s", msg.Type)
	}
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected stats, got %s", msg.Type)
	}
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.LastError != "offline" {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHandlerStats(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	h := NewHandler(server, nil, log.New(io.Discard, "", 0))

	now := time.Now()
	h.OnStatus(status.Started())
	h.OnStatus(status.Finished(now, true))
	h.OnStatus(status.Started())
	h.OnStatus(status.Finished(now, false))
	h.OnStatus(status.Started())
	h.OnStatus(status.Failed(&now, errors.New("boom")))

	want := StatsData{Passes: 3, Succeeded: 1, Partial: 1, Failed: 1, LastError: "boom"}
	if got := h.GetStats(); got != want {
		t.Errorf("GetStats() = %+v, want %+v", got, want)
	}
}

func TestSnapshotToleratesEntryError(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	h := NewHandler(server, fakeEntries{err: errors.New("db closed")}, log.New(io.Discard, "", 0))

	if snap := h.Snapshot(); snap.Keys != nil {
		t.Errorf("Expected no keys, got %+v", snap.Keys)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a source, got %d", resp.StatusCode)
	}

	NewHandler(server, nil, log.New(io.Discard, "", 0))

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/status", http.StatusOK},
		{"/", http.StatusOK},
		{"/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get("http://" + server.GetAddr() + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
			}
		})
	}

	resp, err = http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" {
		t.Errorf("Unexpected health payload: %v", health)
	}
}
