package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthlab/hearth-core/internal/bus"
	"github.com/hearthlab/hearth-core/internal/infrastructure/config"
	"github.com/hearthlab/hearth-core/internal/infrastructure/logging"
)

// Frame types of the WebSocket protocol. Clients send subscribe,
// unsubscribe and ping; the server answers with response, error and
// pong, and pushes event frames for subscribed channels.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound buffer. A client that
	// falls further behind than this starts losing frames.
	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects what a client wants to hear. Channels are
// bus event types. EntityIDs optionally narrows state_changed frames to
// the named entities; empty means all of them.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// stateFrame is the typed payload of a state_changed event frame.
// Old/NewState are the state store's published values; either is nil at
// the edges of an entity's life.
type stateFrame struct {
	EntityID string      `json:"entity_id"`
	OldState any         `json:"old_state"`
	NewState any         `json:"new_state"`
	Context  bus.Context `json:"context"`
}

// Hub tracks the connected WebSocket clients and fans event frames out
// to the interested ones.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket session.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
	entities map[string]struct{}

	// userID is the authenticated subject from the connection token.
	userID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Token auth gates the upgrade; origins are not restricted.
		return true
	},
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// Register adds a client to the fan-out set.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client. Whoever wins the removal closes the send
// channel; the loser must not close it again, or shutdown races panic.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast pushes an event frame to every client subscribed to channel
// and, when entityID is set, interested in that entity. The client
// snapshot is taken under the hub lock, then sends happen outside it so
// a stuck client cannot hold up the hub.
func (h *Hub) Broadcast(channel, entityID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast frame", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.wants(channel, entityID) {
			c.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// subscribeBusEvents relays core events into the hub. state_changed is
// reshaped into a typed frame so clients never parse the internal event
// layout; other channels carry the event as published.
func (s *Server) subscribeBusEvents() {
	stateSub := s.bus.Subscribe(bus.EventStateChanged, func(evt bus.Event) {
		data, ok := evt.StateChanged()
		if !ok {
			return
		}
		s.hub.Broadcast(string(evt.Type), data.EntityID, stateFrame{
			EntityID: data.EntityID,
			OldState: data.OldState,
			NewState: data.NewState,
			Context:  evt.Context,
		})
	})
	autoSub := s.bus.Subscribe(bus.EventAutomationTriggered, func(evt bus.Event) {
		s.hub.Broadcast(string(evt.Type), "", evt)
	})
	s.eventSubs = append(s.eventSubs, stateSub, autoSub)
}

// handleWebSocket upgrades the HTTP connection. Browsers cannot set
// headers on WebSocket requests, so the bearer JWT travels in the
// "token" query parameter instead.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	claims, err := validateToken(s.secCfg.JWT.Secret, token)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
		entities: make(map[string]struct{}),
		userID:   claims.Subject,
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump consumes client frames until the connection dies.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client frame proves liveness, not just pongs.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleFrame(frame)
	}
}

// writePump drains the send buffer onto the wire and keeps the
// connection alive with protocol pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				// Hub closed the channel.
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame dispatches one inbound frame.
func (c *WSClient) handleFrame(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeSubscribePayload reads the selection out of a subscribe or
// unsubscribe frame.
func decodeSubscribePayload(payload any) (WSSubscribePayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WSSubscribePayload{}, err
	}
	var sel WSSubscribePayload
	if err := json.Unmarshal(raw, &sel); err != nil {
		return WSSubscribePayload{}, err
	}
	return sel, nil
}

func (c *WSClient) handleSubscribe(msg WSMessage) {
	sel, err := decodeSubscribePayload(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sel.Channels {
		c.channels[ch] = struct{}{}
	}
	for _, id := range sel.EntityIDs {
		c.entities[id] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed",
		"user_id", c.userID,
		"channels", sel.Channels,
		"entity_ids", sel.EntityIDs,
	)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": sel.Channels,
	})
}

func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	sel, err := decodeSubscribePayload(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sel.Channels {
		delete(c.channels, ch)
	}
	for _, id := range sel.EntityIDs {
		delete(c.entities, id)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sel.Channels,
	})
}

// wants reports whether this client should receive a frame on channel.
// An entity filter only narrows frames that carry an entity ID.
func (c *WSClient) wants(channel, entityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if entityID == "" || len(c.entities) == 0 {
		return true
	}
	_, ok := c.entities[entityID]
	return ok
}

// trySend queues a frame without blocking. A full buffer drops the
// frame; a closed channel (client unregistering mid-broadcast) is
// absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
