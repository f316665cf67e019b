package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard sits behind basic auth; cross-origin pages cannot
	// carry those credentials, so origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub pushes routed webhook events to connected dashboard clients. Slow or
// dead clients are dropped on the first failed write.
type hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*websocket.Conn]struct{})}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *hub) broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshaling websocket event", "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(conn)
		}
	}
}

// handleWS upgrades the connection and keeps it registered until the client
// goes away. Inbound messages are discarded; the stream is one-way.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.add(conn)

	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
