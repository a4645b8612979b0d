package sqlstore

import (
	"context"
	"database/sql"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

// DirectConversations derives one row per peer from the messages table: the
// newest message exchanged with that peer (ties broken by id) and the number
// of unread messages the peer sent to userID.
func (s *SQLStore) DirectConversations(ctx context.Context, userID string) ([]models.DirectConversation, error) {
	query := s.rebind(`
		WITH direct AS (
			SELECT m.id, m.sender_id, m.recipient_id, m.content, m.media_url, m.type, m.sent_at, m.is_read,
				CASE WHEN m.sender_id = ? THEN m.recipient_id ELSE m.sender_id END AS peer_id
			FROM messages m
			WHERE m.chat_id IS NULL AND (m.sender_id = ? OR m.recipient_id = ?)
		), ranked AS (
			SELECT d.*, ROW_NUMBER() OVER (PARTITION BY d.peer_id ORDER BY d.sent_at DESC, d.id DESC) AS rn
			FROM direct d
		)
		SELECT r.peer_id, r.id, r.sender_id, r.recipient_id, r.content, r.media_url, r.type, r.sent_at, r.is_read,
			(SELECT COUNT(*) FROM messages u
				WHERE u.chat_id IS NULL AND u.recipient_id = ? AND u.sender_id = r.peer_id AND u.is_read = FALSE) AS unread
		FROM ranked r
		WHERE r.rn = 1
		ORDER BY r.sent_at DESC, r.id DESC`)

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID)
	if err != nil {
		return nil, s.classify("DirectConversations", err)
	}
	defer rows.Close()

	conversations := []models.DirectConversation{}
	for rows.Next() {
		var (
			c              models.DirectConversation
			recipient      sql.NullString
			content, media sql.NullString
			msgType        string
			sentAt         int64
		)
		if err := rows.Scan(&c.PeerID, &c.LastMessage.ID, &c.LastMessage.SenderID, &recipient,
			&content, &media, &msgType, &sentAt, &c.LastMessage.Read, &c.Unread); err != nil {
			return nil, s.classify("DirectConversations", err)
		}
		c.LastMessage.RecipientID = nullString(recipient)
		c.LastMessage.Content = nullString(content)
		c.LastMessage.MediaURL = nullString(media)
		c.LastMessage.Type = models.MessageType(msgType)
		c.LastMessage.SentAt = fromNanos(sentAt)
		c.LastMessageAt = c.LastMessage.SentAt
		conversations = append(conversations, c)
	}
	return conversations, s.classify("DirectConversations", rows.Err())
}

// GroupConversations lists every chat where userID holds a membership that
// is not "left". Removed members see the chat as it was when they were
// removed; pending members see no message content.
func (s *SQLStore) GroupConversations(ctx context.Context, userID string) ([]models.GroupConversation, error) {
	query := s.rebind(`
		SELECT c.id, c.name, c.photo_url, c.last_message_at, gm.role, gm.status,
			lm.id, lm.sender_id, lm.content, lm.media_url, lm.type, lm.sent_at,
			(SELECT COUNT(*) FROM messages u
				WHERE u.chat_id = c.id AND u.sender_id <> gm.user_id AND gm.status <> 'pending'
				AND u.sent_at > COALESCE(gm.last_seen_at, 0)
				AND (gm.departed_at IS NULL OR u.sent_at <= gm.departed_at)) AS unread
		FROM group_memberships gm
		JOIN group_chats c ON c.id = gm.chat_id
		LEFT JOIN messages lm ON gm.status <> 'pending' AND lm.id = (
			SELECT m.id FROM messages m
			WHERE m.chat_id = c.id AND (gm.departed_at IS NULL OR m.sent_at <= gm.departed_at)
			ORDER BY m.sent_at DESC, m.id DESC
			LIMIT 1)
		WHERE gm.user_id = ? AND gm.status <> 'left'
		ORDER BY COALESCE(CASE WHEN gm.departed_at IS NULL THEN c.last_message_at ELSE lm.sent_at END, c.created_at) DESC, c.id DESC`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, s.classify("GroupConversations", err)
	}
	defer rows.Close()

	conversations := []models.GroupConversation{}
	for rows.Next() {
		var (
			c                      models.GroupConversation
			name, photo            sql.NullString
			lastMessageAt          sql.NullInt64
			role, status           string
			msgID, sender, msgType sql.NullString
			content, media         sql.NullString
			sentAt                 sql.NullInt64
		)
		if err := rows.Scan(&c.ChatID, &name, &photo, &lastMessageAt, &role, &status,
			&msgID, &sender, &content, &media, &msgType, &sentAt, &c.Unread); err != nil {
			return nil, s.classify("GroupConversations", err)
		}
		c.Name = nullString(name)
		c.PhotoURL = nullString(photo)
		c.LastMessageAt = nullTime(lastMessageAt)
		c.Role = models.Role(role)
		c.Status = models.Status(status)
		if msgID.Valid {
			chatID := c.ChatID
			c.LastMessage = &models.Message{
				ID:       msgID.String,
				SenderID: sender.String,
				ChatID:   &chatID,
				Content:  nullString(content),
				MediaURL: nullString(media),
				Type:     models.MessageType(msgType.String),
				SentAt:   fromNanos(sentAt.Int64),
			}
			if c.Status.Departed() {
				c.LastMessageAt = &c.LastMessage.SentAt
			}
		} else if c.Status.Departed() || c.Status == models.StatusPending {
			c.LastMessageAt = nil
		}
		conversations = append(conversations, c)
	}
	return conversations, s.classify("GroupConversations", rows.Err())
}
