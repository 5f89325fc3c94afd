package wsserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codalite/coda/internal/events"
	"github.com/gorilla/websocket"
)

func TestServer_ReplaysBufferOnConnect(t *testing.T) {
	bus := events.New()
	s := New(bus, nil)
	bus.Submit(events.TypeConversationTurn, map[string]any{"turn": 1}, events.PriorityHigh)

	s.mu.Lock()
	s.running = true
	s.stopCh = make(chan struct{})
	s.busSub = bus.Subscribe(256)
	s.mu.Unlock()
	s.wg.Add(1)
	go s.pumpBus()

	hts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	defer hts.Close()
	defer s.Stop()

	wsURL := "ws" + strings.TrimPrefix(hts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read replay message: %v", err)
	}

	var env replayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal replay: %v", err)
	}
	if env.Type != events.TypeReplay {
		t.Fatalf("expected type %q, got %q", events.TypeReplay, env.Type)
	}
	if len(env.Events) != 1 {
		t.Fatalf("expected 1 replayed event, got %d", len(env.Events))
	}
}

func TestServer_StartStopIdempotent(t *testing.T) {
	bus := events.New()
	s := New(bus, nil)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("second Start should be a no-op, got error: %v", err)
	}
	s.Stop()
	s.Stop() // no-op, must not panic
}

func TestServer_ClientCountTracksConnections(t *testing.T) {
	bus := events.New()
	s := New(bus, nil)
	s.mu.Lock()
	s.running = true
	s.stopCh = make(chan struct{})
	s.busSub = bus.Subscribe(256)
	s.mu.Unlock()
	s.wg.Add(1)
	go s.pumpBus()

	hts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	defer hts.Close()
	defer s.Stop()

	wsURL := "ws" + strings.TrimPrefix(hts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := s.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)
	if got := s.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients after disconnect, got %d", got)
	}
}
