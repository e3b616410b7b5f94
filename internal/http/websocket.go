package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"tracker_gateway/internal/models"
	"tracker_gateway/pkg/colors"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the frame pushed to websocket clients
type wsMessage struct {
	Type      string      `json:"type"`
	IMEI      string      `json:"imei"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans gateway events out to connected websocket clients. It
// implements the session layer's Broadcaster interface.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

// HandleWS upgrades a request and parks the client in the hub
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		colors.PrintWarning("WebSocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	colors.PrintConnection("WebSocket client connected (%d total)", count)

	// Reader goroutine only detects disconnects; clients don't talk.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) broadcast(msg wsMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
		}
	}
}

// BroadcastDeviceStatus pushes connect/disconnect transitions
func (h *Hub) BroadcastDeviceStatus(imei, status string) {
	h.broadcast(wsMessage{
		Type:      "device_status",
		IMEI:      imei,
		Data:      map[string]string{"status": status},
		Timestamp: time.Now(),
	})
}

// BroadcastLocation pushes a fresh position report
func (h *Hub) BroadcastLocation(imei string, loc *models.Location) {
	h.broadcast(wsMessage{
		Type:      "location",
		IMEI:      imei,
		Data:      loc,
		Timestamp: time.Now(),
	})
}
