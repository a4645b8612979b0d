package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

const messageColumns = `id, sender_id, recipient_id, chat_id, content, media_url, type, sent_at, is_read`

func (s *SQLStore) InsertMessage(ctx context.Context, m *models.Message) error {
	if (m.RecipientID == nil) == (m.ChatID == nil) {
		return apperrors.ErrNoDestination
	}

	return s.withTx(ctx, "InsertMessage", func(tx *sql.Tx) error {
		if m.RecipientID != nil {
			query := s.rebind(`INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, NULL, ?, ?, ?, ?, FALSE)`)
			_, err := tx.ExecContext(ctx, query,
				m.ID, m.SenderID, *m.RecipientID, nullableString(m.Content), nullableString(m.MediaURL),
				string(m.Type), nanos(m.SentAt))
			return err
		}

		chatID := *m.ChatID
		query := s.rebind(`INSERT INTO messages (` + messageColumns + `)
			SELECT ?, ?, NULL, ?, ?, ?, ?, CAST(? AS BIGINT), FALSE
			WHERE EXISTS (SELECT 1 FROM group_memberships
				WHERE chat_id = ? AND user_id = ? AND status = 'active')`)
		res, err := tx.ExecContext(ctx, query,
			m.ID, m.SenderID, chatID, nullableString(m.Content), nullableString(m.MediaURL),
			string(m.Type), nanos(m.SentAt), chatID, m.SenderID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := s.getGroup(ctx, tx, chatID); errorsIsNoRows(err) {
				return apperrors.ErrChatNotFound
			} else if err != nil {
				return err
			}
			return apperrors.ErrNotActiveMember
		}

		// A replayed or out-of-order send never moves the marker back.
		query = s.rebind(`UPDATE group_chats SET last_message_at = ?
			WHERE id = ? AND (last_message_at IS NULL OR last_message_at < ?)`)
		_, err = tx.ExecContext(ctx, query, nanos(m.SentAt), chatID, nanos(m.SentAt))
		return err
	})
}

func (s *SQLStore) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	query := s.rebind(`SELECT ` + messageColumns + ` FROM messages WHERE id = ?`)
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if errorsIsNoRows(err) {
		return nil, apperrors.ErrMessageNotFound
	}
	return m, s.classify("GetMessage", err)
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m               models.Message
		recipient, chat sql.NullString
		content, media  sql.NullString
		msgType         string
		sentAt          int64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &recipient, &chat, &content, &media, &msgType, &sentAt, &m.Read); err != nil {
		return nil, err
	}
	m.RecipientID = nullString(recipient)
	m.ChatID = nullString(chat)
	m.Content = nullString(content)
	m.MediaURL = nullString(media)
	m.Type = models.MessageType(msgType)
	m.SentAt = fromNanos(sentAt)
	return &m, nil
}

func (s *SQLStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, s.classify(op, err)
		}
		messages = append(messages, *m)
	}
	return messages, s.classify(op, rows.Err())
}

func (s *SQLStore) DirectThread(ctx context.Context, userA, userB string) ([]models.Message, error) {
	return s.queryMessages(ctx, "DirectThread", `SELECT `+messageColumns+` FROM messages
		WHERE chat_id IS NULL
		AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))
		ORDER BY sent_at ASC, id ASC`, userA, userB, userB, userA)
}

func (s *SQLStore) GroupThread(ctx context.Context, chatID string, until *time.Time) ([]models.Message, error) {
	if until != nil {
		return s.queryMessages(ctx, "GroupThread", `SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ? AND sent_at <= ?
			ORDER BY sent_at ASC, id ASC`, chatID, nanos(*until))
	}
	return s.queryMessages(ctx, "GroupThread", `SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY sent_at ASC, id ASC`, chatID)
}

// MarkRead flips unread direct messages from peerID to recipientID.
func (s *SQLStore) MarkRead(ctx context.Context, recipientID, peerID string) (int64, error) {
	query := s.rebind(`UPDATE messages SET is_read = TRUE
		WHERE chat_id IS NULL AND recipient_id = ? AND sender_id = ? AND is_read = FALSE`)
	res, err := s.db.ExecContext(ctx, query, recipientID, peerID)
	if err != nil {
		return 0, s.classify("MarkRead", err)
	}
	n, err := res.RowsAffected()
	return n, s.classify("MarkRead", err)
}

// ToggleReaction removes the reaction if present, otherwise adds it, and
// reports whether it was added.
func (s *SQLStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) (bool, error) {
	var added bool
	err := s.withTx(ctx, "ToggleReaction", func(tx *sql.Tx) error {
		query := s.rebind(`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`)
		res, err := tx.ExecContext(ctx, query, messageID, userID, emoji)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			added = false
			return nil
		}

		query = s.rebind(`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
			VALUES (?, ?, ?, ?) ON CONFLICT (message_id, user_id, emoji) DO NOTHING`)
		if _, err := tx.ExecContext(ctx, query, messageID, userID, emoji, nanos(at)); err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

func (s *SQLStore) ReactionCounts(ctx context.Context, messageID string) ([]models.ReactionCount, error) {
	query := s.rebind(`SELECT emoji, COUNT(*) FROM message_reactions
		WHERE message_id = ?
		GROUP BY emoji
		ORDER BY COUNT(*) DESC, emoji ASC`)
	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, s.classify("ReactionCounts", err)
	}
	defer rows.Close()

	counts := []models.ReactionCount{}
	for rows.Next() {
		var rc models.ReactionCount
		if err := rows.Scan(&rc.Emoji, &rc.Count); err != nil {
			return nil, s.classify("ReactionCounts", err)
		}
		counts = append(counts, rc)
	}
	return counts, s.classify("ReactionCounts", rows.Err())
}
