package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/chat"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBuffer = 256

	frameTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket session of one user.
type Client struct {
	hub    *Hub
	chat   *chat.Service
	conn   *websocket.Conn
	userID string
	logger *slog.Logger

	// Buffered channel of outbound messages.
	send chan []byte

	mu      sync.Mutex
	closed  bool
	watches map[string]context.CancelFunc
	typing  map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(hub *Hub, svc *chat.Service, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:     hub,
		chat:    svc,
		conn:    conn,
		userID:  userID,
		logger:  hub.logger.With("user_id", userID),
		send:    make(chan []byte, sendBuffer),
		watches: make(map[string]context.CancelFunc),
		typing:  make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// enqueue reports false when the session is closed or its buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close ends the write pump and every watch. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) sendFrame(frameType string, data any) {
	payload, err := json.Marshal(chat.Event{Type: frameType, Data: data})
	if err != nil {
		c.logger.Error("marshal frame", "type", frameType, "error", err)
		return
	}
	if !c.enqueue(payload) {
		c.logger.Debug("frame dropped", "type", frameType)
	}
}

type errorData struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
	Ref     string         `json:"ref,omitempty"`
}

func (c *Client) sendError(ref string, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown {
		code = apperrors.CodeInternal
	}
	c.sendFrame("error", errorData{Code: code, Message: apperrors.Public(err), Ref: ref})
}

// readPump pumps frames from the websocket connection to the handlers.
//
// The application runs readPump in a per-connection goroutine. Returning
// tears the session down.
func (c *Client) readPump() {
	defer func() {
		c.stopTyping()
		c.hub.Unregister(c)
		c.close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info("websocket closed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendError("", apperrors.InvalidArg("invalid frame"))
			continue
		}
		c.handle(f)
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type connectedData struct {
	UserID              string `json:"user_id"`
	HeartbeatIntervalMs int64  `json:"heartbeat_interval_ms"`
}

// ServeWs handles websocket requests from an authenticated peer.
func ServeWs(hub *Hub, svc *chat.Service, id models.Identity, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade", "error", err)
		return
	}
	client := newClient(hub, svc, conn, id.UserID)
	if err := hub.Register(client); err != nil {
		conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(client.ctx, frameTimeout)
	if err := hub.presence.Heartbeat(ctx, id.UserID); err != nil {
		client.logger.Warn("presence heartbeat", "error", err)
	}
	cancel()
	client.sendFrame("connected", connectedData{
		UserID:              id.UserID,
		HeartbeatIntervalMs: hub.presence.Config().HeartbeatInterval.Milliseconds(),
	})

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
