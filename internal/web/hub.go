package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JonMunkholm/importer/internal/core"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is token protected and carries no cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans job progress out to connected WebSocket clients. Updates are
// queued and written by the hub's own goroutine, so a slow client does not
// hold up the job that reports them.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	updates   chan core.ImportProgress
	quit      chan struct{}
	closeOnce sync.Once
}

// NewHub returns an empty hub and starts its writer.
func NewHub() *Hub {
	h := &Hub{
		conns:   make(map[*websocket.Conn]bool),
		updates: make(chan core.ImportProgress, 256),
		quit:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case p := <-h.updates:
			h.send(p)
		case <-h.quit:
			return
		}
	}
}

// Register adds a client.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
	slog.Info("websocket client connected", "clients", len(h.conns))
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[conn] {
		delete(h.conns, conn)
		conn.Close()
		slog.Info("websocket client disconnected", "clients", len(h.conns))
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast queues p for every client. Updates are dropped while the queue
// is full; terminal phases wait for room.
func (h *Hub) Broadcast(p core.ImportProgress) {
	if p.Phase.Done() {
		select {
		case h.updates <- p:
		case <-h.quit:
		}
		return
	}
	select {
	case h.updates <- p:
	default:
	}
}

// send writes p to every client. Clients that cannot keep up are dropped.
func (h *Hub) send(p core.ImportProgress) {
	payload, err := json.Marshal(p)
	if err != nil {
		slog.Error("marshal progress", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Warn("websocket write failed", "error", err)
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// Close stops the writer and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		delete(h.conns, conn)
	}
}

// handleWebSocket streams the progress of all jobs. Clients only read; the
// read loop exists to notice when they go away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	// current state first, so late clients see running jobs; this happens
	// before Register because the hub owns all writes afterwards
	for _, p := range s.service.ListImports() {
		payload, _ := json.Marshal(p)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			return
		}
	}

	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
