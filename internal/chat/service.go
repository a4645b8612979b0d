// Package chat holds the messaging rules: who may send where, how group
// memberships move between states, and who hears about each change.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/clock"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/store"
)

const (
	EventMessage    = "message"
	EventRead       = "read"
	EventMembership = "membership"
	EventTyping     = "typing"
	EventPresence   = "presence"
)

// Event is pushed to connected users. Delivery is best effort.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Notifier pushes events to every live session of the given users.
type Notifier interface {
	Notify(ctx context.Context, userIDs []string, event Event) error
}

// TypingClearer drops a typing signal once the user's message has landed.
type TypingClearer interface {
	ClearTyping(ctx context.Context, chatKey, userID string) error
}

type Service struct {
	store    store.Store
	notifier Notifier
	typing   TypingClearer
	clock    clock.Clock
	logger   *slog.Logger
	stamp    *stamper
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithTyping(t TypingClearer) Option { return func(s *Service) { s.typing = t } }

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stamp = &stamper{clock: s.clock}
	return s
}

// Ping reports whether the durable store is reachable.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// stamper hands out strictly increasing timestamps so that one process never
// stamps two messages with the same sent_at.
type stamper struct {
	mu    sync.Mutex
	clock clock.Clock
	last  time.Time
}

func (st *stamper) next() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.clock.Now().UTC()
	if !now.After(st.last) {
		now = st.last.Add(time.Nanosecond)
	}
	st.last = now
	return now
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
