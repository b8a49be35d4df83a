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
)

func startTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	s := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the server to register the client.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Broadcast(MessageTypeConnectivity, ConnectivityData{Online: true})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to parse message: %v", err)
	}
	if msg.Type != MessageTypeConnectivity {
		t.Errorf("expected connectivity message, got %s", msg.Type)
	}
	var payload ConnectivityData
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if !payload.Online {
		t.Error("expected online=true payload")
	}
}

func TestBroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	s := startTestServer(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			s.Broadcast(MessageTypeQueueStats, QueueStatsData{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked with no clients connected")
	}
}
