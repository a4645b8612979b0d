package ws

import (
	"context"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/chat"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

// inboundFrame is every client frame. ChatID names a group or a direct
// chat key; PeerID is shorthand for the direct chat with that user.
type inboundFrame struct {
	Type        string             `json:"type"`
	Ref         string             `json:"ref,omitempty"`
	ChatID      string             `json:"chat_id,omitempty"`
	PeerID      string             `json:"peer_id,omitempty"`
	UserID      string             `json:"user_id,omitempty"`
	RecipientID string             `json:"recipient_id,omitempty"`
	Content     *string            `json:"content,omitempty"`
	MediaURL    *string            `json:"media_url,omitempty"`
	MsgType     models.MessageType `json:"msg_type,omitempty"`
}

type typingData struct {
	ChatID  string   `json:"chat_id"`
	UserIDs []string `json:"user_ids"`
}

func (c *Client) handle(f inboundFrame) {
	ctx, cancel := context.WithTimeout(c.ctx, frameTimeout)
	defer cancel()

	var err error
	switch f.Type {
	case "heartbeat":
		err = c.hub.presence.Heartbeat(ctx, c.userID)
	case "typing":
		err = c.startTyping(ctx, f)
	case "stop_typing":
		err = c.endTyping(ctx, f)
	case "watch_typing":
		err = c.watchTyping(ctx, f)
	case "unwatch_typing":
		c.unwatch("typing:" + c.chatKey(f))
	case "watch_presence":
		err = c.watchPresence(f)
	case "unwatch_presence":
		c.unwatch("presence:" + f.UserID)
	case "send":
		_, err = c.chat.Send(ctx, c.userID, models.Destination{RecipientID: f.RecipientID, ChatID: f.ChatID}, chat.MessageInput{
			Content:  f.Content,
			MediaURL: f.MediaURL,
			Type:     f.MsgType,
		})
	default:
		err = apperrors.InvalidArg("unknown frame type")
	}
	if err != nil {
		c.sendError(f.Ref, err)
	}
}

func (c *Client) chatKey(f inboundFrame) string {
	if f.PeerID != "" {
		return models.DirectChatKey(c.userID, f.PeerID)
	}
	return f.ChatID
}

func (c *Client) startTyping(ctx context.Context, f inboundFrame) error {
	key := c.chatKey(f)
	if key == "" {
		return apperrors.InvalidArg("chat_id or peer_id is required")
	}
	if err := c.chat.CanTypeInChat(ctx, key, c.userID); err != nil {
		return err
	}
	if err := c.hub.presence.SetTyping(ctx, key, c.userID); err != nil {
		return err
	}
	c.mu.Lock()
	c.typing[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) endTyping(ctx context.Context, f inboundFrame) error {
	key := c.chatKey(f)
	if key == "" {
		return apperrors.InvalidArg("chat_id or peer_id is required")
	}
	c.mu.Lock()
	delete(c.typing, key)
	c.mu.Unlock()
	return c.hub.presence.ClearTyping(ctx, key, c.userID)
}

// stopTyping clears every signal this session set, so peers do not see a
// closed session typing until expiry.
func (c *Client) stopTyping() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.typing))
	for key := range c.typing {
		keys = append(keys, key)
	}
	c.typing = make(map[string]struct{})
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	for _, key := range keys {
		if err := c.hub.presence.ClearTyping(ctx, key, c.userID); err != nil {
			c.logger.Warn("clear typing on close", "chat", key, "error", err)
		}
	}
}

func (c *Client) watchTyping(ctx context.Context, f inboundFrame) error {
	key := c.chatKey(f)
	if key == "" {
		return apperrors.InvalidArg("chat_id or peer_id is required")
	}
	if err := c.chat.CanWatchChat(ctx, key, c.userID); err != nil {
		return err
	}
	wctx, ok := c.startWatch("typing:" + key)
	if !ok {
		return nil
	}
	updates := c.hub.presence.WatchTyping(wctx, key, c.userID)
	go func() {
		for typers := range updates {
			c.sendFrame(chat.EventTyping, typingData{ChatID: key, UserIDs: typers})
		}
	}()
	return nil
}

func (c *Client) watchPresence(f inboundFrame) error {
	if f.UserID == "" {
		return apperrors.InvalidArg("user_id is required")
	}
	wctx, ok := c.startWatch("presence:" + f.UserID)
	if !ok {
		return nil
	}
	updates := c.hub.presence.WatchPresence(wctx, f.UserID)
	go func() {
		for rec := range updates {
			c.sendFrame(chat.EventPresence, rec)
		}
	}()
	return nil
}

// startWatch returns the context for a new watch, or false if the session
// already watches key or is closed.
func (c *Client) startWatch(key string) (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	if _, ok := c.watches[key]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.watches[key] = cancel
	return ctx, true
}

func (c *Client) unwatch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.watches[key]; ok {
		cancel()
		delete(c.watches, key)
	}
}
