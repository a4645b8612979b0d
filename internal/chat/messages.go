package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

const maxEmojiLen = 16

// MessageInput is the body of a send. SentAt is honoured only for replays
// and imports; live sends are stamped by the service.
type MessageInput struct {
	Content  *string
	MediaURL *string
	Type     models.MessageType
	SentAt   *time.Time
}

// ReadReceipt is the payload of a read event, sent to the peer whose
// messages were read.
type ReadReceipt struct {
	ReaderID string    `json:"reader_id"`
	PeerID   string    `json:"peer_id"`
	Count    int64     `json:"count"`
	At       time.Time `json:"at"`
}

// Send validates and stores one message, then fans it out. Fan-out failures
// are logged and never fail the send.
func (s *Service) Send(ctx context.Context, senderID string, dest models.Destination, in MessageInput) (*models.Message, error) {
	if senderID == "" {
		return nil, apperrors.Unauthenticated("missing user")
	}
	if !dest.IsDirect() && !dest.IsGroup() {
		return nil, apperrors.ErrNoDestination
	}
	if dest.IsDirect() && dest.RecipientID == senderID {
		return nil, apperrors.ErrSelfDestination
	}

	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	if !msgType.Valid() {
		return nil, apperrors.ErrUnknownType
	}
	content := trimmed(in.Content)
	mediaURL := trimmed(in.MediaURL)
	if msgType.NeedsBody() && content == nil && mediaURL == nil {
		return nil, apperrors.ErrEmptyMessage
	}

	if dest.IsGroup() {
		if err := s.checkGroupSend(ctx, dest.ChatID, senderID, msgType, mediaURL != nil); err != nil {
			return nil, err
		}
	}

	m := &models.Message{
		ID:       newID(),
		SenderID: senderID,
		Content:  content,
		MediaURL: mediaURL,
		Type:     msgType,
	}
	if dest.IsDirect() {
		recipient := dest.RecipientID
		m.RecipientID = &recipient
	} else {
		chatID := dest.ChatID
		m.ChatID = &chatID
	}
	if in.SentAt != nil {
		m.SentAt = in.SentAt.UTC()
	} else {
		m.SentAt = s.stamp.next()
	}

	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	s.deliver(ctx, m)
	return m, nil
}

// checkGroupSend gives a precise error before the write. The insert itself
// re-checks membership, so a member removed in between is still refused.
func (s *Service) checkGroupSend(ctx context.Context, chatID, senderID string, msgType models.MessageType, hasMedia bool) error {
	chat, err := s.store.GetGroup(ctx, chatID)
	if err != nil {
		return err
	}
	m, err := s.store.GetMember(ctx, chatID, senderID)
	if err != nil {
		return err
	}
	if m == nil || m.Status != models.StatusActive {
		return apperrors.ErrNotActiveMember
	}

	switch msgType {
	case models.MessageImage:
		if !chat.AllowMedia {
			return apperrors.ErrCapabilityOff
		}
	case models.MessageVideo:
		if !chat.AllowVideo {
			return apperrors.ErrCapabilityOff
		}
	case models.MessageVoiceNote:
		if !chat.AllowVoice {
			return apperrors.ErrCapabilityOff
		}
	default:
		if hasMedia && !chat.AllowMedia {
			return apperrors.ErrCapabilityOff
		}
	}
	return nil
}

func (s *Service) GetDirectThread(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	if peerID == "" {
		return nil, apperrors.ErrNoDestination
	}
	if peerID == userID {
		return nil, apperrors.ErrSelfDestination
	}
	return s.store.DirectThread(ctx, userID, peerID)
}

// GetGroupThread returns the full thread to current members and the thread
// up to their departure to members who left or were removed.
func (s *Service) GetGroupThread(ctx context.Context, chatID, callerID string) ([]models.Message, error) {
	if _, err := s.store.GetGroup(ctx, chatID); err != nil {
		return nil, err
	}
	m, err := s.store.GetMember(ctx, chatID, callerID)
	if err != nil {
		return nil, err
	}
	switch {
	case m == nil || m.Status == models.StatusPending:
		return nil, apperrors.ErrNotMember
	case m.Status.Current():
		return s.store.GroupThread(ctx, chatID, nil)
	default:
		return s.store.GroupThread(ctx, chatID, m.DepartedAt)
	}
}

// MarkRead marks everything peerID sent to recipientID as read and tells the
// peer how many messages flipped.
func (s *Service) MarkRead(ctx context.Context, recipientID, peerID string) (int64, error) {
	if peerID == "" || peerID == recipientID {
		return 0, apperrors.ErrSelfDestination
	}
	n, err := s.store.MarkRead(ctx, recipientID, peerID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		receipt := ReadReceipt{ReaderID: recipientID, PeerID: peerID, Count: n, At: s.clock.Now().UTC()}
		s.notify(ctx, []string{peerID, recipientID}, Event{Type: EventRead, Data: receipt})
	}
	return n, nil
}

// MarkGroupSeen moves the caller's last-seen marker to now.
func (s *Service) MarkGroupSeen(ctx context.Context, chatID, userID string) error {
	if _, err := s.store.GetGroup(ctx, chatID); err != nil {
		return err
	}
	m, err := s.store.GetMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if m == nil || !m.Status.Current() {
		return apperrors.ErrNotMember
	}
	return s.store.MarkGroupSeen(ctx, chatID, userID, s.clock.Now().UTC())
}

// ToggleReaction adds the reaction if the user has not made it yet and
// removes it otherwise. It reports whether the reaction is now present.
func (s *Service) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLen {
		return false, apperrors.InvalidArg("emoji must be 1-16 characters")
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if err := s.checkReact(ctx, m, userID); err != nil {
		return false, err
	}
	return s.store.ToggleReaction(ctx, messageID, userID, emoji, s.clock.Now().UTC())
}

func (s *Service) ListReactions(ctx context.Context, messageID, callerID string) ([]models.ReactionCount, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, m, callerID); err != nil {
		return nil, err
	}
	return s.store.ReactionCounts(ctx, messageID)
}

// checkRead allows the two parties of a direct message, and group members
// who could see the message in their thread.
func (s *Service) checkRead(ctx context.Context, m *models.Message, userID string) error {
	if m.IsDirect() {
		if m.SenderID != userID && *m.RecipientID != userID {
			return apperrors.ErrMessageNotFound
		}
		return nil
	}
	member, err := s.store.GetMember(ctx, *m.ChatID, userID)
	if err != nil {
		return err
	}
	switch {
	case member == nil || member.Status == models.StatusPending:
		return apperrors.ErrNotMember
	case member.Status.Departed() && member.DepartedAt != nil && m.SentAt.After(*member.DepartedAt):
		return apperrors.ErrMessageNotFound
	}
	return nil
}

// checkReact is checkRead plus a current membership and the chat's
// allow_reactions flag for group messages.
func (s *Service) checkReact(ctx context.Context, m *models.Message, userID string) error {
	if err := s.checkRead(ctx, m, userID); err != nil {
		return err
	}
	if m.IsDirect() {
		return nil
	}
	chat, err := s.store.GetGroup(ctx, *m.ChatID)
	if err != nil {
		return err
	}
	if !chat.AllowReactions {
		return apperrors.ErrCapabilityOff
	}
	member, err := s.store.GetMember(ctx, *m.ChatID, userID)
	if err != nil {
		return err
	}
	if member == nil || !member.Status.Current() {
		return apperrors.ErrNotMember
	}
	return nil
}

// CanWatchChat reports whether userID may observe typing in chatKey: a party
// to the direct pair, or a current group member.
func (s *Service) CanWatchChat(ctx context.Context, chatKey, userID string) error {
	return s.checkChatKey(ctx, chatKey, userID, func(m *models.GroupMembership) bool {
		return m.Status.Current()
	})
}

// CanTypeInChat requires an active membership for groups, matching who may
// send.
func (s *Service) CanTypeInChat(ctx context.Context, chatKey, userID string) error {
	return s.checkChatKey(ctx, chatKey, userID, func(m *models.GroupMembership) bool {
		return m.Status == models.StatusActive
	})
}

func (s *Service) checkChatKey(ctx context.Context, chatKey, userID string, allowed func(*models.GroupMembership) bool) error {
	if a, b, ok := models.ParseDirectChatKey(chatKey); ok {
		if userID != a && userID != b {
			return apperrors.ErrNotMember
		}
		return nil
	}
	if _, err := s.store.GetGroup(ctx, chatKey); err != nil {
		return err
	}
	m, err := s.store.GetMember(ctx, chatKey, userID)
	if err != nil {
		return err
	}
	if m == nil || !allowed(m) {
		return apperrors.ErrNotMember
	}
	return nil
}
