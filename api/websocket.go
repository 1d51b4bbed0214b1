package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/seenimoa/cosmictracker/internal/dashboard"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced on the REST routes only
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Per-client outbound queue.
	clientBuffer = 64
)

// WebSocket message types.
const (
	msgSnapshot     = "snapshot"
	msgNotification = "notification"
	msgSearch       = "search"
	msgRefresh      = "refresh"
	msgPing         = "ping"
	msgPong         = "pong"
	msgError        = "error"
)

const errRefreshInProgress = "refresh already in progress"

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsInbound is a message received from a client. Data is decoded per type.
type wsInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func wsMessageFor(ev dashboard.Event) WSMessage {
	if ev.Type == dashboard.EventNotification {
		return WSMessage{Type: msgNotification, Data: ev.Notification}
	}
	return WSMessage{Type: msgSnapshot, Data: newSnapshotView(*ev.Snapshot, time.Now())}
}

// ============================================================
// Hub
// ============================================================

// WSHub manages WebSocket connections and message broadcasting.
type WSHub struct {
	mu        sync.RWMutex
	clients   map[*WSClient]bool
	broadcast chan WSMessage
	log       *logrus.Entry
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	id   string
	hub  *WSHub
	send chan WSMessage
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log *logrus.Entry) *WSHub {
	return &WSHub{
		clients:   make(map[*WSClient]bool),
		broadcast: make(chan WSMessage, 256),
		log:       log,
	}
}

// Run fans broadcast messages out until ctx is done, then disconnects every
// client.
func (h *WSHub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *WSHub) fanOut(msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Slow client; disconnect
			h.log.WithField("client", client.id).Warn("websocket client too slow, disconnecting")
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast queues a message for all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.WithField("type", msg.Type).Warn("broadcast queue full, message dropped")
	}
}

// Send queues a message for one client. It reports false when the client is
// gone or its queue is full.
func (h *WSHub) Send(client *WSClient, msg WSMessage) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
}

// ============================================================
// Connection pumps
// ============================================================

// handleWebSocket upgrades HTTP connections to WebSocket. The client first
// receives the current snapshot, then every state change and notification.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		hub:  s.wsHub,
		send: make(chan WSMessage, clientBuffer),
	}
	client.send <- WSMessage{Type: msgSnapshot, Data: newSnapshotView(s.ctrl.Snapshot(), time.Now())}

	s.wsHub.Register(client)
	s.log.WithFields(logrus.Fields{"client": client.id, "remote": r.RemoteAddr}).Debug("websocket client connected")

	go wsWritePump(conn, client)
	go wsReadPump(conn, client, s)
}

// wsReadPump applies client commands to the controller.
func wsReadPump(conn *websocket.Conn, client *WSClient, s *Server) {
	log := s.log.WithField("client", client.id)
	defer func() {
		client.hub.Unregister(client)
		conn.Close()
		log.Debug("websocket client disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("websocket read error")
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(message, &msg); err != nil {
			client.hub.Send(client, WSMessage{Type: msgError, Data: "invalid message"})
			continue
		}

		switch msg.Type {
		case msgSearch:
			var term string
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &term); err != nil {
					client.hub.Send(client, WSMessage{Type: msgError, Data: "search data must be a string"})
					continue
				}
			}
			// The resulting snapshot reaches every client through the event pump.
			s.ctrl.SetSearchTerm(term)
		case msgRefresh:
			if s.ctrl.Status() == dashboard.StatusLoading || !s.wsRefreshing.CompareAndSwap(false, true) {
				client.hub.Send(client, WSMessage{Type: msgError, Data: errRefreshInProgress})
				continue
			}
			go func() {
				defer s.wsRefreshing.Store(false)
				// Failures surface as an error notification.
				_ = s.ctrl.Refresh(s.baseCtx)
			}()
		case msgPing:
			client.hub.Send(client, WSMessage{Type: msgPong})
		default:
			client.hub.Send(client, WSMessage{Type: msgError, Data: "unknown message type " + msg.Type})
		}
	}
}

// wsWritePump pumps messages from the hub to the WebSocket connection.
func wsWritePump(conn *websocket.Conn, client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
