package chat

import (
	"context"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

// Recipients lists who should receive m in real time: both parties of a
// direct message, or every active member of the group. The sender is
// included so their other sessions stay in sync.
func (s *Service) Recipients(ctx context.Context, m *models.Message) ([]string, error) {
	if m.IsDirect() {
		return []string{*m.RecipientID, m.SenderID}, nil
	}
	return s.store.ActiveMemberIDs(ctx, *m.ChatID)
}

// deliver runs after commit. The message is durable by now, so nothing
// here may fail the send.
func (s *Service) deliver(ctx context.Context, m *models.Message) {
	ctx = context.WithoutCancel(ctx)

	recipients, err := s.Recipients(ctx, m)
	if err != nil {
		s.logger.Warn("fan-out recipients", "message_id", m.ID, "error", err)
	} else {
		s.notify(ctx, recipients, Event{Type: EventMessage, Data: m})
	}

	if s.typing == nil {
		return
	}
	key := typingKey(m)
	if err := s.typing.ClearTyping(ctx, key, m.SenderID); err != nil {
		s.logger.Warn("clear typing", "chat", key, "user_id", m.SenderID, "error", err)
	}
}

func (s *Service) publishMembership(ctx context.Context, chatID string, changes ...MembershipChange) {
	if len(changes) == 0 || s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	members, err := s.store.ActiveMemberIDs(ctx, chatID)
	if err != nil {
		s.logger.Warn("membership fan-out", "chat_id", chatID, "error", err)
		return
	}
	for _, c := range changes {
		recipients := members
		if !contains(members, c.UserID) {
			recipients = append(append([]string(nil), members...), c.UserID)
		}
		s.notify(ctx, recipients, Event{Type: EventMembership, Data: c})
	}
}

func (s *Service) notify(ctx context.Context, userIDs []string, event Event) {
	if s.notifier == nil || len(userIDs) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, userIDs, event); err != nil {
		s.logger.Warn("notify", "event", event.Type, "recipients", len(userIDs), "error", err)
	}
}

// typingKey is the chat key typing signals for m's conversation live under.
func typingKey(m *models.Message) string {
	if m.IsDirect() {
		return models.DirectChatKey(m.SenderID, *m.RecipientID)
	}
	return *m.ChatID
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
