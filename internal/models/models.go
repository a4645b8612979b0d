package models

import (
	"strconv"
	"strings"
	"time"
)

// Identity is the verified caller handed to us by the identity provider.
type Identity struct {
	UserID      string `json:"user_id"`
	Campus      string `json:"campus"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type MessageType string

const (
	MessageText      MessageType = "text"
	MessageImage     MessageType = "image"
	MessageVideo     MessageType = "video"
	MessageVoiceNote MessageType = "voice_note"
	MessagePostShare MessageType = "post_share"
	MessageSystem    MessageType = "system"
	MessageCall      MessageType = "call"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageVoiceNote, MessagePostShare, MessageSystem, MessageCall:
		return true
	}
	return false
}

// NeedsBody reports whether a message of this type must carry content or media.
func (t MessageType) NeedsBody() bool {
	return t != MessageSystem && t != MessageCall
}

// Message is addressed to exactly one of RecipientID (direct) or ChatID (group).
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	RecipientID *string     `json:"recipient_id,omitempty"`
	ChatID      *string     `json:"chat_id,omitempty"`
	Content     *string     `json:"content,omitempty"`
	MediaURL    *string     `json:"media_url,omitempty"`
	Type        MessageType `json:"type"`
	SentAt      time.Time   `json:"sent_at"`
	Read        bool        `json:"read"`
}

func (m *Message) IsDirect() bool { return m.RecipientID != nil }

// Destination is either Direct(RecipientID) or Group(ChatID).
type Destination struct {
	RecipientID string `json:"recipient_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
}

func Direct(recipientID string) Destination { return Destination{RecipientID: recipientID} }

func Group(chatID string) Destination { return Destination{ChatID: chatID} }

func (d Destination) IsDirect() bool { return d.RecipientID != "" && d.ChatID == "" }

func (d Destination) IsGroup() bool { return d.ChatID != "" && d.RecipientID == "" }

type GroupChat struct {
	ID             string     `json:"id"`
	CreatorID      string     `json:"creator_id"`
	Name           *string    `json:"name,omitempty"`
	PhotoURL       *string    `json:"photo_url,omitempty"`
	AllowMedia     bool       `json:"allow_media"`
	AllowVoice     bool       `json:"allow_voice"`
	AllowVideo     bool       `json:"allow_video"`
	AllowReactions bool       `json:"allow_reactions"`
	CreatedAt      time.Time  `json:"created_at"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
}

// GroupAttrs carries the mutable group fields. Nil pointers are left untouched.
type GroupAttrs struct {
	Name           *string `json:"name,omitempty"`
	PhotoURL       *string `json:"photo_url,omitempty"`
	AllowMedia     *bool   `json:"allow_media,omitempty"`
	AllowVoice     *bool   `json:"allow_voice,omitempty"`
	AllowVideo     *bool   `json:"allow_video,omitempty"`
	AllowReactions *bool   `json:"allow_reactions,omitempty"`
}

func (a GroupAttrs) Empty() bool {
	return a.Name == nil && a.PhotoURL == nil && a.AllowMedia == nil &&
		a.AllowVoice == nil && a.AllowVideo == nil && a.AllowReactions == nil
}

type Role string

const (
	RoleMember  Role = "member"
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
)

func (r Role) Privileged() bool { return r == RoleAdmin || r == RoleCreator }

type Status string

const (
	StatusActive  Status = "active"
	StatusMuted   Status = "muted"
	StatusLeft    Status = "left"
	StatusRemoved Status = "removed"
	StatusPending Status = "pending"
)

// Current reports whether the member still belongs to the chat.
func (s Status) Current() bool { return s == StatusActive || s == StatusMuted }

// Departed reports a terminal status.
func (s Status) Departed() bool { return s == StatusLeft || s == StatusRemoved }

type GroupMembership struct {
	ChatID     string     `json:"chat_id"`
	UserID     string     `json:"user_id"`
	Role       Role       `json:"role"`
	Status     Status     `json:"status"`
	JoinedAt   time.Time  `json:"joined_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DepartedAt *time.Time `json:"departed_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// Privileged is role ∈ {admin, creator} and status = active.
func (m *GroupMembership) Privileged() bool {
	return m != nil && m.Role.Privileged() && m.Status == StatusActive
}

type AddOutcome string

const (
	OutcomeAdded       AddOutcome = "added"
	OutcomeReactivated AddOutcome = "reactivated"
	OutcomeUnchanged   AddOutcome = "unchanged"
)

// AddResult reports what AddMembers did for one user. Conflict is set when
// the row already existed in a departed state and was brought back.
type AddResult struct {
	UserID   string     `json:"user_id"`
	Outcome  AddOutcome `json:"outcome"`
	Status   Status     `json:"status"`
	Conflict bool       `json:"conflict,omitempty"`
}

type DirectConversation struct {
	PeerID        string    `json:"peer_id"`
	LastMessage   Message   `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	Unread        int       `json:"unread"`
}

type GroupConversation struct {
	ChatID        string     `json:"chat_id"`
	Name          *string    `json:"name,omitempty"`
	PhotoURL      *string    `json:"photo_url,omitempty"`
	LastMessage   *Message   `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	Role          Role       `json:"role"`
	Status        Status     `json:"status"`
	Unread        int        `json:"unread"`
}

type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type TypingSignal struct {
	ChatID string    `json:"chat_id"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

const directKeyPrefix = "dm:"

// DirectChatKey names the conversation between two users independent of
// argument order. The first id is length-prefixed so ids containing ':'
// cannot be confused with another pair.
func DirectChatKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return directKeyPrefix + strconv.Itoa(len(a)) + ":" + a + ":" + b
}

// ParseDirectChatKey returns the two users of a key built by DirectChatKey.
// Keys not in that exact form are rejected.
func ParseDirectChatKey(key string) (string, string, bool) {
	rest, ok := strings.CutPrefix(key, directKeyPrefix)
	if !ok {
		return "", "", false
	}
	length, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return "", "", false
	}
	n, err := strconv.Atoi(length)
	if err != nil || n <= 0 || n+1 >= len(rest) || rest[n] != ':' {
		return "", "", false
	}
	a, b := rest[:n], rest[n+1:]
	if DirectChatKey(a, b) != key {
		return "", "", false
	}
	return a, b, true
}
