package chat

import (
	"context"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

// ListDirectConversations returns one entry per peer, newest first.
func (s *Service) ListDirectConversations(ctx context.Context, userID string) ([]models.DirectConversation, error) {
	return s.store.DirectConversations(ctx, userID)
}

// ListGroupConversations returns every chat the user has not left, most
// recently active first.
func (s *Service) ListGroupConversations(ctx context.Context, userID string) ([]models.GroupConversation, error) {
	return s.store.GroupConversations(ctx, userID)
}
