package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"healthnexus-backend/internal/middleware"
	"healthnexus-backend/internal/realtime"
	"healthnexus-backend/pkg/constants"
	"healthnexus-backend/pkg/logger"
	"healthnexus-backend/pkg/metrics"
)

// SignalingHub relays WebRTC signaling between the participants of a
// consultation session. Cross-instance fan-out rides the session event bus.
type SignalingHub struct {
	// Registered clients per session
	sessions map[uuid.UUID]map[*SignalingClient]bool

	// One bus subscription per session with connected clients
	subscriptions map[uuid.UUID]*realtime.Subscription

	bus     *realtime.Bus
	metrics *metrics.Metrics

	mu sync.RWMutex

	register   chan *SignalingClient
	unregister chan *SignalingClient
	broadcast  chan *outboundSignal

	maxConnections int
	semaphore      chan struct{}
}

// SignalingClient is one participant's WebSocket connection
type SignalingClient struct {
	hub       *SignalingHub
	conn      *websocket.Conn
	send      chan []byte
	userID    uuid.UUID
	sessionID uuid.UUID
	cancel    context.CancelFunc
}

// inboundSignal is what a client sends over the socket
type inboundSignal struct {
	Type     string          `json:"type" binding:"required"`
	TargetID uuid.UUID       `json:"target_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// outboundSignal is what the hub writes to clients
type outboundSignal struct {
	SessionID uuid.UUID       `json:"session_id"`
	SenderID  uuid.UUID       `json:"sender_id"`
	TargetID  uuid.UUID       `json:"target_id,omitempty"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return middleware.GetAllowedOrigins()[origin]
	},
}

// NewSignalingHub creates a hub backed by the given session event bus
func NewSignalingHub(bus *realtime.Bus, m *metrics.Metrics) *SignalingHub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_SIGNALING_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &SignalingHub{
		sessions:       make(map[uuid.UUID]map[*SignalingClient]bool),
		subscriptions:  make(map[uuid.UUID]*realtime.Subscription),
		bus:            bus,
		metrics:        m,
		register:       make(chan *SignalingClient),
		unregister:     make(chan *SignalingClient),
		broadcast:      make(chan *outboundSignal, 256),
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

func (h *SignalingHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.sessions[client.sessionID] == nil {
				h.sessions[client.sessionID] = make(map[*SignalingClient]bool)
				h.openSubscription(client.sessionID)
			}
			h.sessions[client.sessionID][client] = true
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.WebSocketConnected()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.sessions[client.sessionID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					client.cancel()

					if len(clients) == 0 {
						if sub, ok := h.subscriptions[client.sessionID]; ok {
							if err := sub.Close(); err != nil {
								logger.Warn("Failed to close session subscription",
									zap.String("session_id", client.sessionID.String()),
									zap.Error(err))
							}
							delete(h.subscriptions, client.sessionID)
						}
						delete(h.sessions, client.sessionID)
					}
				}
			}
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.WebSocketDisconnected()
			}

		case signal := <-h.broadcast:
			h.deliver(signal)
		}
	}
}

// openSubscription wires a session's bus events into the broadcast loop.
// Caller holds the lock.
func (h *SignalingHub) openSubscription(sessionID uuid.UUID) {
	sub, err := h.bus.Subscribe(context.Background(), sessionID)
	if err != nil {
		logger.Error("Failed to subscribe to session channel",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return
	}
	h.subscriptions[sessionID] = sub

	go func() {
		for event := range sub.Signaling() {
			var payload realtime.SignalingPayload
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				logger.Warn("Malformed signaling payload on session channel",
					zap.String("session_id", sessionID.String()),
					zap.Error(err))
				continue
			}

			h.broadcast <- &outboundSignal{
				SessionID: event.SessionID,
				SenderID:  event.SenderID,
				TargetID:  payload.TargetID,
				Type:      payload.Type,
				Data:      payload.Data,
				Timestamp: event.Timestamp,
			}
		}
	}()
}

// deliver writes one signal to its targets: the named target when set,
// every participant except the sender otherwise
func (h *SignalingHub) deliver(signal *outboundSignal) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.sessions[signal.SessionID]
	if !ok {
		return
	}

	data, err := json.Marshal(signal)
	if err != nil {
		logger.Warn("Failed to marshal outbound signal",
			zap.String("session_id", signal.SessionID.String()),
			zap.Error(err))
		return
	}

	for client := range clients {
		if signal.TargetID != uuid.Nil && client.userID != signal.TargetID {
			continue
		}
		if signal.TargetID == uuid.Nil && client.userID == signal.SenderID {
			continue
		}

		select {
		case client.send <- data:
			if h.metrics != nil {
				h.metrics.RecordWebSocketMessage(signal.Type, "outbound")
			}
		default:
			logger.Warn("Dropping slow signaling client",
				zap.String("session_id", signal.SessionID.String()),
				zap.String("user_id", client.userID.String()))
			close(client.send)
			delete(clients, client)
		}
	}
}

// ServeWS upgrades the request and attaches the client to its session
// GET /v1/ws/signaling?session_id=...
func (h *SignalingHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	sessionIDStr := c.Query("session_id")
	if sessionIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}

	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	_, cancel := context.WithCancel(context.Background())
	client := &SignalingClient{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		userID:    userID,
		sessionID: sessionID,
		cancel:    cancel,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump publishes inbound signals to the session's bus channel
func (c *SignalingClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("session_id", c.sessionID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var signal inboundSignal
		if err := json.Unmarshal(message, &signal); err != nil {
			logger.Warn("Invalid signaling message format",
				zap.String("session_id", c.sessionID.String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage(signal.Type, "inbound")
		}

		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		err = c.hub.bus.PublishSignaling(ctx, c.sessionID, c.userID, &realtime.SignalingPayload{
			Type:     signal.Type,
			TargetID: signal.TargetID,
			Data:     signal.Data,
		})
		cancel()
		if err != nil {
			logger.Warn("Failed to publish signaling message",
				zap.String("session_id", c.sessionID.String()),
				zap.Error(err))
		}
	}
}

// writePump drains the send channel and keeps the connection alive
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
