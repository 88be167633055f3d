package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/crewmesh/crewmesh/pkg/types"
)

// eventHub fans audit events out to connected websocket clients. Slow
// clients are dropped rather than allowed to stall the trail.
type eventHub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan types.AuditEvent
	upgrader websocket.Upgrader
}

func newEventHub() *eventHub {
	return &eventHub{
		clients: make(map[*websocket.Conn]chan types.AuditEvent),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// broadcast queues an event for every connected client.
func (h *eventHub) broadcast(event types.AuditEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Buffer full: the client is not keeping up.
			delete(h.clients, conn)
			close(ch)
			conn.Close()
		}
	}
}

func (h *eventHub) add(conn *websocket.Conn) chan types.AuditEvent {
	ch := make(chan types.AuditEvent, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *eventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// handleEvents handles GET /ws/events: upgrades the connection and streams
// audit events as JSON frames until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.events.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed: %v", err)
		return
	}

	ch := s.events.add(conn)
	defer s.events.remove(conn)

	// Discard inbound frames; detect disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.events.remove(conn)
				return
			}
		}
	}()

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}
