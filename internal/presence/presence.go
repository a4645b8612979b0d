// Package presence tracks who is online and who is typing. Nothing here is
// durable: a record is only as fresh as its last refresh, and readers decide
// staleness against the clock at read time.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/clock"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

type Config struct {
	// HeartbeatInterval is how often clients are asked to heartbeat.
	HeartbeatInterval time.Duration
	// GraceWindow is how long a heartbeat keeps a user online.
	GraceWindow time.Duration
	// TypingExpiry is how long one SetTyping call stays visible.
	TypingExpiry time.Duration
	// PollInterval is how often watchers re-evaluate expiry without a change
	// notification.
	PollInterval time.Duration
	// OfflineRetention is how long a backend keeps a presence record so
	// last-seen stays readable.
	OfflineRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 20 * time.Second,
		GraceWindow:       60 * time.Second,
		TypingExpiry:      3 * time.Second,
		PollInterval:      250 * time.Millisecond,
		OfflineRetention:  7 * 24 * time.Hour,
	}
}

type ChangeKind uint8

const (
	ChangePresence ChangeKind = iota + 1
	ChangeTyping
)

// Change tells watchers that a key may look different now. Key is a user ID
// for presence changes and a chat key for typing changes.
type Change struct {
	Kind   ChangeKind `cbor:"1,keyasint"`
	Key    string     `cbor:"2,keyasint"`
	UserID string     `cbor:"3,keyasint"`
	At     int64      `cbor:"4,keyasint"`
}

// Record is what a backend holds for one user.
type Record struct {
	Online   bool
	LastSeen time.Time
}

// Backend stores raw ephemeral state and carries change notifications
// between processes. ttl values are hints; expiry is judged by Channel.
type Backend interface {
	SetPresence(ctx context.Context, userID string, rec Record, ttl time.Duration) error
	// SetOffline marks userID offline as of at unless the stored record was
	// seen after at, and reports whether it wrote.
	SetOffline(ctx context.Context, userID string, at time.Time, ttl time.Duration) (bool, error)
	GetPresence(ctx context.Context, userID string) (Record, bool, error)
	SetTyping(ctx context.Context, chatKey, userID string, at time.Time, ttl time.Duration) error
	ClearTyping(ctx context.Context, chatKey, userID string) error
	// Typing returns the last refresh time of every typer in chatKey.
	Typing(ctx context.Context, chatKey string) (map[string]time.Time, error)
	Publish(ctx context.Context, c Change) error
	// Subscribe delivers every published change until ctx is done, then
	// closes the channel.
	Subscribe(ctx context.Context) (<-chan Change, error)
	Close() error
}

type watchKey struct {
	kind ChangeKind
	key  string
}

type Channel struct {
	backend Backend
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	watchers map[watchKey]map[chan struct{}]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New subscribes to backend changes and dispatches them to watchers until
// ctx is done or Close is called.
func New(ctx context.Context, backend Backend, cfg Config, clk clock.Clock, logger *slog.Logger) (*Channel, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	changes, err := backend.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c := &Channel{
		backend:  backend,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		watchers: make(map[watchKey]map[chan struct{}]struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.dispatch(changes)
	return c, nil
}

func (c *Channel) Config() Config { return c.cfg }

// Close stops dispatching. Watchers stay open until their own contexts end.
func (c *Channel) Close() error {
	c.cancel()
	<-c.done
	return c.backend.Close()
}

func (c *Channel) dispatch(changes <-chan Change) {
	defer close(c.done)
	for ch := range changes {
		c.poke(watchKey{kind: ch.Kind, key: ch.Key})
	}
}

func (c *Channel) poke(k watchKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := range c.watchers[k] {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

func (c *Channel) addWatcher(k watchKey) chan struct{} {
	w := make(chan struct{}, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.watchers[k]
	if !ok {
		set = make(map[chan struct{}]struct{})
		c.watchers[k] = set
	}
	set[w] = struct{}{}
	return w
}

func (c *Channel) removeWatcher(k watchKey, w chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watchers[k], w)
	if len(c.watchers[k]) == 0 {
		delete(c.watchers, k)
	}
}

func (c *Channel) publish(ctx context.Context, kind ChangeKind, key, userID string, at time.Time) {
	if err := c.backend.Publish(ctx, Change{Kind: kind, Key: key, UserID: userID, At: at.UnixNano()}); err != nil {
		c.logger.Warn("presence publish", "key", key, "error", err)
	}
}

// Heartbeat marks userID online as of now. The record outlives the grace
// window so last-seen survives a crash that skips Disconnect.
func (c *Channel) Heartbeat(ctx context.Context, userID string) error {
	now := c.clock.Now().UTC()
	if err := c.backend.SetPresence(ctx, userID, Record{Online: true, LastSeen: now}, c.cfg.OfflineRetention); err != nil {
		return err
	}
	c.publish(ctx, ChangePresence, userID, userID, now)
	return nil
}

// Now is the channel clock's current time.
func (c *Channel) Now() time.Time { return c.clock.Now().UTC() }

// Disconnect marks userID offline immediately, keeping last-seen.
func (c *Channel) Disconnect(ctx context.Context, userID string) error {
	return c.DisconnectAt(ctx, userID, c.Now())
}

// DisconnectAt marks userID offline as of at. A heartbeat recorded after at
// wins, so a session that reconnected in the meantime stays online.
func (c *Channel) DisconnectAt(ctx context.Context, userID string, at time.Time) error {
	at = at.UTC()
	wrote, err := c.backend.SetOffline(ctx, userID, at, c.cfg.OfflineRetention)
	if err != nil {
		return err
	}
	if wrote {
		c.publish(ctx, ChangePresence, userID, userID, at)
	}
	return nil
}

// Presence reads userID's state. A heartbeat older than the grace window
// reads as offline.
func (c *Channel) Presence(ctx context.Context, userID string) (models.PresenceRecord, error) {
	rec, ok, err := c.backend.GetPresence(ctx, userID)
	if err != nil {
		return models.PresenceRecord{UserID: userID}, err
	}
	if !ok {
		return models.PresenceRecord{UserID: userID}, nil
	}
	online := rec.Online && c.clock.Now().Sub(rec.LastSeen) <= c.cfg.GraceWindow
	return models.PresenceRecord{UserID: userID, Online: online, LastSeen: rec.LastSeen}, nil
}

// SetTyping creates or extends userID's typing signal in chatKey.
func (c *Channel) SetTyping(ctx context.Context, chatKey, userID string) error {
	now := c.clock.Now().UTC()
	if err := c.backend.SetTyping(ctx, chatKey, userID, now, c.cfg.TypingExpiry); err != nil {
		return err
	}
	c.publish(ctx, ChangeTyping, chatKey, userID, now)
	return nil
}

func (c *Channel) ClearTyping(ctx context.Context, chatKey, userID string) error {
	if err := c.backend.ClearTyping(ctx, chatKey, userID); err != nil {
		return err
	}
	c.publish(ctx, ChangeTyping, chatKey, userID, c.clock.Now().UTC())
	return nil
}

// Typers lists users with a live signal in chatKey, sorted, without viewerID.
func (c *Channel) Typers(ctx context.Context, chatKey, viewerID string) ([]string, error) {
	signals, err := c.backend.Typing(ctx, chatKey)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	typers := []string{}
	for userID, at := range signals {
		if userID == viewerID || now.Sub(at) >= c.cfg.TypingExpiry {
			continue
		}
		typers = append(typers, userID)
	}
	sort.Strings(typers)
	return typers, nil
}
