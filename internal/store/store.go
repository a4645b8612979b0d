package store

import (
	"context"
	"time"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

// MemberTransition is a conditional status change on one membership row.
// The row changes only if, at write time, the target's status is in From and
// its role is in TargetRoles, and the actor holds an active membership with a
// role in ActorRoles. Empty ActorRoles means the actor is the target.
type MemberTransition struct {
	ChatID      string
	ActorID     string
	TargetID    string
	From        []models.Status
	To          models.Status
	ActorRoles  []models.Role
	TargetRoles []models.Role
	At          time.Time
}

type GroupStore interface {
	CreateGroup(ctx context.Context, chat *models.GroupChat) error
	GetGroup(ctx context.Context, chatID string) (*models.GroupChat, error)
	UpdateGroup(ctx context.Context, chatID, callerID string, attrs models.GroupAttrs) (*models.GroupChat, error)
	GetMember(ctx context.Context, chatID, userID string) (*models.GroupMembership, error)
	ListMembers(ctx context.Context, chatID string) ([]models.GroupMembership, error)
	ActiveMemberIDs(ctx context.Context, chatID string) ([]string, error)
	AddMembers(ctx context.Context, chatID, callerID string, userIDs []string, at time.Time) ([]models.AddResult, error)
	TransitionMember(ctx context.Context, t MemberTransition) (bool, error)
	SetRole(ctx context.Context, chatID, callerID, targetID string, role models.Role, at time.Time) (bool, error)
	RequestJoin(ctx context.Context, chatID, userID string, at time.Time) (bool, error)
	MarkGroupSeen(ctx context.Context, chatID, userID string, at time.Time) error
}

type MessageStore interface {
	// InsertMessage appends m. Group messages are accepted only from an
	// active member and advance the chat's last_message_at in the same
	// transaction.
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	DirectThread(ctx context.Context, userA, userB string) ([]models.Message, error)
	// GroupThread returns the chat's messages; a non-nil until caps the thread.
	GroupThread(ctx context.Context, chatID string, until *time.Time) ([]models.Message, error)
	MarkRead(ctx context.Context, recipientID, peerID string) (int64, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) (bool, error)
	ReactionCounts(ctx context.Context, messageID string) ([]models.ReactionCount, error)
}

// ConversationIndex is derived from messages and memberships on every call.
type ConversationIndex interface {
	DirectConversations(ctx context.Context, userID string) ([]models.DirectConversation, error)
	GroupConversations(ctx context.Context, userID string) ([]models.GroupConversation, error)
}

type Store interface {
	GroupStore
	MessageStore
	ConversationIndex

	Ping(ctx context.Context) error
	Close() error
}
