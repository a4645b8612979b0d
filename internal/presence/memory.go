package presence

import (
	"context"
	"sync"
	"time"
)

const memorySubscriberBuffer = 64

// MemoryBackend keeps state in process. Records are kept until overwritten;
// Channel judges expiry.
type MemoryBackend struct {
	mu       sync.Mutex
	presence map[string]Record
	typing   map[string]map[string]time.Time
	subs     map[chan Change]struct{}
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		presence: make(map[string]Record),
		typing:   make(map[string]map[string]time.Time),
		subs:     make(map[chan Change]struct{}),
	}
}

func (b *MemoryBackend) SetPresence(_ context.Context, userID string, rec Record, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence[userID] = rec
	return nil
}

func (b *MemoryBackend) SetOffline(_ context.Context, userID string, at time.Time, _ time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.presence[userID]; ok && cur.LastSeen.After(at) {
		return false, nil
	}
	b.presence[userID] = Record{Online: false, LastSeen: at}
	return true, nil
}

func (b *MemoryBackend) GetPresence(_ context.Context, userID string) (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.presence[userID]
	return rec, ok, nil
}

func (b *MemoryBackend) SetTyping(_ context.Context, chatKey, userID string, at time.Time, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	chat, ok := b.typing[chatKey]
	if !ok {
		chat = make(map[string]time.Time)
		b.typing[chatKey] = chat
	}
	for id, t := range chat {
		if at.Sub(t) >= ttl {
			delete(chat, id)
		}
	}
	chat[userID] = at
	return nil
}

func (b *MemoryBackend) ClearTyping(_ context.Context, chatKey, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.typing[chatKey], userID)
	if len(b.typing[chatKey]) == 0 {
		delete(b.typing, chatKey)
	}
	return nil
}

func (b *MemoryBackend) Typing(_ context.Context, chatKey string) (map[string]time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]time.Time, len(b.typing[chatKey]))
	for id, t := range b.typing[chatKey] {
		out[id] = t
	}
	return out, nil
}

// Publish never blocks. A subscriber that is behind misses the poke and
// catches up on its next poll.
func (b *MemoryBackend) Publish(_ context.Context, c Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub <- c:
		default:
		}
	}
	return nil
}

func (b *MemoryBackend) Subscribe(ctx context.Context) (<-chan Change, error) {
	sub := make(chan Change, memorySubscriberBuffer)
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub)
		b.mu.Unlock()
	}()
	return sub, nil
}

func (b *MemoryBackend) Close() error { return nil }
