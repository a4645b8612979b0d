package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/chat"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/presence"
)

var ErrHubStopped = errors.New("ws: hub stopped")

const disconnectTimeout = 5 * time.Second

type delivery struct {
	userIDs []string
	payload []byte
}

// Hub owns the set of live sessions, keyed by user. Only Run touches the
// map; everything else talks to it over channels.
type Hub struct {
	// Registered clients, by user.
	clients map[string]map[*Client]bool

	// Outbound events for a set of users.
	deliver chan delivery

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	presence *presence.Channel
	logger   *slog.Logger
	done     chan struct{}
}

var _ chat.Notifier = (*Hub)(nil)

func NewHub(p *presence.Channel, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		deliver:    make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]map[*Client]bool),
		presence:   p,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, sessions := range h.clients {
				for client := range sessions {
					client.close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			return
		case client := <-h.register:
			sessions, ok := h.clients[client.userID]
			if !ok {
				sessions = make(map[*Client]bool)
				h.clients[client.userID] = sessions
			}
			sessions[client] = true
		case client := <-h.unregister:
			h.drop(client)
		case d := <-h.deliver:
			for _, userID := range d.userIDs {
				for client := range h.clients[userID] {
					if !client.enqueue(d.payload) {
						h.logger.Warn("dropping slow session", "user_id", userID)
						h.drop(client)
					}
				}
			}
		}
	}
}

// drop removes one session. When it was the user's last, the user goes
// offline right away instead of waiting out the heartbeat window.
func (h *Hub) drop(client *Client) {
	sessions, ok := h.clients[client.userID]
	if !ok || !sessions[client] {
		return
	}
	delete(sessions, client)
	client.close()
	if len(sessions) > 0 {
		return
	}
	delete(h.clients, client.userID)
	if h.presence == nil {
		return
	}
	// Stamped here, in order with registrations, so a heartbeat from a
	// session registered after this drop always wins.
	droppedAt := h.presence.Now()
	go func(userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := h.presence.DisconnectAt(ctx, userID, droppedAt); err != nil {
			h.logger.Warn("presence disconnect", "user_id", userID, "error", err)
		}
	}(client.userID)
}

func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Notify queues event for every session of userIDs.
func (h *Hub) Notify(ctx context.Context, userIDs []string, event chat.Event) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.deliver <- delivery{userIDs: userIDs, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
