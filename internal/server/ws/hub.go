// Package ws bridges the shared event bus to WebSocket clients. Each server
// instance runs one Hub that subscribes to the bus and fans events out to the
// connections registered locally, so correctness never depends on how many
// instances are running or which one accepted a given connection.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rtbsystem/auctiond/internal/auth"
	"github.com/rtbsystem/auctiond/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// busChannels are the bus channels every hub instance subscribes to.
var busChannels = []string{
	domain.ChannelAuctionEvents,
	domain.ChannelAuctionUpdates,
}

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// client represents a single authenticated WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	role   domain.Role
}

// trySend queues a payload for the client without blocking. It reports
// whether the payload was queued; a full buffer drops the message.
func (c *client) trySend(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// clientMsg is the JSON frame a client sends to manage room membership.
type clientMsg struct {
	Action    string    `json:"action"` // "join" or "leave"
	AuctionID uuid.UUID `json:"auctionId"`
}

// Hub routes events from the shared bus to locally registered connections.
type Hub struct {
	registry   *Registry
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	bus        domain.EventBus
	tokens     *auth.TokenMaker
	logger     *slog.Logger
}

// NewHub creates a Hub that authenticates handshakes with tokens and relays
// events from the given bus.
func NewHub(bus domain.EventBus, tokens *auth.TokenMaker, logger *slog.Logger) *Hub {
	return &Hub{
		registry:   NewRegistry(),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		bus:        bus,
		tokens:     tokens,
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Run starts the hub's event loop: bus subscriptions, client registration,
// and event fan-out. It blocks until the context is cancelled. Events arrive
// on one ordered bus and are dispatched in arrival order, so clients on any
// instance observe a given auction's events in commit order.
func (h *Hub) Run(ctx context.Context) error {
	for _, channel := range busChannels {
		go h.subscribeToChannel(ctx, channel)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c := <-h.register:
			if c.role == domain.RoleAdmin {
				h.registry.JoinAdmins(c)
			}
			h.logger.Info("client connected",
				slog.String("user_id", c.userID.String()),
				slog.String("role", string(c.role)),
			)

		case c := <-h.unregister:
			h.registry.DropAll(c)
			close(c.send)
			h.logger.Info("client disconnected",
				slog.String("user_id", c.userID.String()),
			)

		case payload := <-h.broadcast:
			h.dispatch(payload)
		}
	}
}

// dispatch decodes a bus payload and pushes it to the auction's room plus
// the admin group. Slow clients miss the message rather than stalling
// everyone else; the ledger stays authoritative for them.
func (h *Hub) dispatch(payload []byte) {
	event, err := domain.DecodeEvent(payload)
	if err != nil {
		h.logger.Warn("dropping undecodable bus payload",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, c := range h.registry.Recipients(event.AuctionID) {
		if !c.trySend(payload) {
			h.logger.Warn("dropping event for slow client",
				slog.String("user_id", c.userID.String()),
				slog.String("type", string(event.Type)),
			)
		}
	}
}

// subscribeToChannel forwards payloads from one bus channel to the hub's
// broadcast loop.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("failed to subscribe to bus channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("subscribed to bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgCh:
			if !ok {
				h.logger.Warn("bus subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			h.broadcast <- payload
		}
	}
}

// HandleWS authenticates the handshake, upgrades the connection, and
// registers the client. Unauthenticated attempts fail with 401 before any
// registry involvement.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthenticated"}`))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: claims.UserID,
		role:   claims.Role,
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// authenticate extracts and verifies the handshake token from the "token"
// query parameter or the Authorization header.
func (h *Hub) authenticate(r *http.Request) (auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = strings.TrimSpace(parts[1])
			}
		}
	}
	if token == "" {
		return auth.Claims{}, domain.ErrUnauthenticated
	}
	return h.tokens.Verify(token)
}

// readPump consumes room-management frames from the client until the
// connection drops, then unregisters it.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected websocket close",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "join":
			c.hub.registry.Join(c, msg.AuctionID)
		case "leave":
			c.hub.registry.Leave(c, msg.AuctionID)
		}
	}
}

// writePump pushes queued events to the connection as JSON text frames and
// sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
