package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// ──────────────────── WebSocket Hub ────────────────────

// WSHub fans scan/materialize progress events out to connected clients.
// It implements jobs.EventNotifier so job handlers can broadcast without
// importing internal/api.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]bool
}

type WSClient struct {
	conn *websocket.Conn
	send chan []byte
}

type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*WSClient]bool)}
}

func (h *WSHub) Broadcast(event string, data interface{}) {
	msg, err := json.Marshal(WSMessage{Event: event, Data: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (h *WSHub) addClient(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *WSHub) removeClient(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────── WebSocket Handler ────────────────────

// handleWebSocket upgrades the connection and streams scan:*/materialize:*
// events; there is no session to authenticate against since this core
// carries no auth surface (spec.md §1 Non-goal).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("websocket accept error: %v", err)
		return
	}

	client := &WSClient{conn: conn, send: make(chan []byte, 64)}
	s.wsHub.addClient(client)
	log.Printf("websocket client connected (%d total)", s.wsHub.ClientCount())

	ctx := r.Context()

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range client.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	s.wsHub.removeClient(client)
	log.Printf("websocket client disconnected (%d remaining)", s.wsHub.ClientCount())
}
