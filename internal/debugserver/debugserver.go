// Package debugserver implements the optional live state-transition feed
// named in SPEC_FULL.md's domain stack: a gorilla/websocket broadcast hub
// that fans out one JSON event per protocol state change to any number of
// observers, adapted from websocket/server.go's client-set/broadcast-channel
// shape. Nothing about consensus correctness depends on it; a process run
// without --debug-addr never constructs one.
package debugserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one observed state transition, published by a role's handlers.
type Event struct {
	Time   time.Time      `json:"time"`
	Role   string         `json:"role"`
	ID     int            `json:"id"`
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Server is a broadcast hub: anything published via Publish is fanned out
// to every currently-connected websocket client. Unlike
// websocket/server.go's echo server, nothing is echoed back: the server
// reads from observers only to notice when they close, and discards
// whatever they send.
type Server struct {
	addr     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	broadcast chan Event
	quit      chan struct{}
}

// New creates a debug server that will listen on addr once Start is called.
func New(addr string) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 256),
		quit:      make(chan struct{}),
	}
}

// Start runs the HTTP/websocket server; it blocks until the listener fails
// or Stop is called, matching websocket/server.go's Start contract.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWebSocket)

	go s.handleBroadcast()

	log.Printf("[debug] live feed on ws://%s/events", s.addr)
	srv := &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-s.quit:
		return nil
	}
}

// Publish enqueues an event for broadcast. It never blocks the caller's
// protocol-handling goroutine beyond a full buffer, in which case the
// event is dropped — the feed is diagnostic, not a delivery guarantee.
func (s *Server) Publish(role string, id int, kind string, fields map[string]any) {
	ev := Event{Time: time.Now(), Role: role, ID: id, Kind: kind, Fields: fields}
	select {
	case s.broadcast <- ev:
	default:
		log.Printf("[debug] feed full, dropping %s-%d %s event", role, id, kind)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[debug] upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Drain reads so the peer's close frame is observed; observers never
	// send anything meaningful back.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleBroadcast() {
	for {
		select {
		case ev := <-s.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[debug] marshal event: %v", err)
				continue
			}
			s.mu.Lock()
			for client := range s.clients {
				if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
					client.Close()
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		case <-s.quit:
			return
		}
	}
}

// Stop closes every connected client and shuts down the broadcast loop.
func (s *Server) Stop() {
	close(s.quit)
	s.mu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
}

// NoopPublisher satisfies the Publisher interface without a running server,
// used by roles when --debug-addr is not set.
type NoopPublisher struct{}

// Publish discards the event.
func (NoopPublisher) Publish(role string, id int, kind string, fields map[string]any) {}

// Publisher is the narrow interface a role depends on, so it can hold
// either a live *Server or NoopPublisher without a nil check at every
// call site.
type Publisher interface {
	Publish(role string, id int, kind string, fields map[string]any)
}

var _ Publisher = (*Server)(nil)
var _ Publisher = NoopPublisher{}
