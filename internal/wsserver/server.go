// Package wsserver is the WebSocket fan-out half of the event bus: it
// upgrades HTTP connections, replays the bus's buffered high-priority
// events to new observers, then streams live events as they are
// submitted. One slow observer never blocks another or the publisher.
package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/codalite/coda/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// outboundBufSize bounds each connection's pending-write queue. Once
// full, the oldest queued message is dropped to make room rather than
// blocking the broadcaster.
const outboundBufSize = 64

// replayEnvelope is the one-shot message sent to a newly connected
// observer carrying the bus's retained high-priority events.
type replayEnvelope struct {
	Type   string         `json:"type"`
	Events []events.Event `json:"events"`
}

// clientMessage is the shape of an inbound message from an observer.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Server upgrades HTTP connections to WebSocket and fans out bus
// events to every connected observer.
type Server struct {
	bus    *events.Bus
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
	conns      map[*conn]struct{}
	busSub     <-chan events.Event
	stopCh     chan struct{}
	wg         sync.WaitGroup

	onConnect    []func(clientID string)
	onDisconnect []func(clientID string)
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

// New creates a fan-out server bound to bus. Call Start to begin
// listening.
func New(bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// OnConnect registers a callback invoked with the new client's ID each
// time an observer connects.
func (s *Server) OnConnect(fn func(clientID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// OnDisconnect registers a callback invoked with the client's ID each
// time an observer disconnects, including on a failed send.
func (s *Server) OnDisconnect(fn func(clientID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// Start begins listening on addr. A second call while already running
// logs a warning and returns, matching the idempotent-lifecycle style
// used elsewhere in the pipeline.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("wsserver already running")
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.busSub = s.bus.Subscribe(256)
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.wg.Add(1)
	go s.pumpBus()

	ln := s.httpServer
	errCh := make(chan error, 1)
	go func() {
		if err := ln.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("wsserver listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Stop closes the listener and every connected observer, draining
// in-flight writes. A second call is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.bus.Unsubscribe(s.busSub)
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*conn]struct{})
	httpServer := s.httpServer
	s.mu.Unlock()

	for _, c := range conns {
		close(c.send)
		_ = c.ws.Close()
	}

	if httpServer != nil {
		_ = httpServer.Shutdown(context.Background())
	}

	s.wg.Wait()
	s.logger.Info("wsserver stopped")
}

// pumpBus forwards every bus event to every connected observer's
// outbound queue.
func (s *Server) pumpBus() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case e, ok := <-s.busSub:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("marshal event", "error", err)
				continue
			}
			s.broadcast(payload)
		}
	}
}

func (s *Server) broadcast(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		enqueue(c, payload)
	}
}

// enqueue appends payload to c's outbound queue, dropping the oldest
// queued message if the queue is already full.
func enqueue(c *conn, payload []byte) {
	select {
	case c.send <- payload:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, outboundBufSize),
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	handlers := append([]func(string){}, s.onConnect...)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(c.id)
	}
	s.logger.Info("observer connected", "client_id", c.id)

	if replay := s.bus.Replay(); len(replay) > 0 {
		msg, err := json.Marshal(replayEnvelope{Type: events.TypeReplay, Events: replay})
		if err == nil {
			enqueue(c, msg)
		}
	}

	s.wg.Add(1)
	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) writePump(c *conn) {
	defer s.wg.Done()
	for payload := range c.send {
		c.mu.Lock()
		err := c.ws.WriteMessage(websocket.TextMessage, payload)
		c.mu.Unlock()
		if err != nil {
			s.disconnect(c)
			return
		}
	}
}

func (s *Server) readPump(c *conn) {
	defer s.disconnect(c)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("invalid client message", "client_id", c.id, "error", err)
			continue
		}
		s.bus.Submit(events.TypeClientMessage, map[string]any{
			"client_id":    c.id,
			"message_type": msg.Type,
			"message_data": json.RawMessage(msg.Data),
		}, events.PriorityNormal)
	}
}

func (s *Server) disconnect(c *conn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	if ok {
		delete(s.conns, c)
		close(c.send)
	}
	handlers := append([]func(string){}, s.onDisconnect...)
	s.mu.Unlock()

	if !ok {
		return
	}
	_ = c.ws.Close()
	s.logger.Info("observer disconnected", "client_id", c.id)
	for _, fn := range handlers {
		fn(c.id)
	}
}

// ClientCount returns the number of currently connected observers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
