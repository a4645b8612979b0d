package presence

import (
	"context"
	"slices"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

// WatchTyping emits the typers in chatKey, excluding viewerID: once
// immediately, then whenever the list changes. The channel closes when ctx
// is done.
func (c *Channel) WatchTyping(ctx context.Context, chatKey, viewerID string) <-chan []string {
	var last []string
	first := true
	return watch(ctx, c, watchKey{kind: ChangeTyping, key: chatKey}, func() ([]string, bool) {
		typers, err := c.Typers(ctx, chatKey, viewerID)
		if err != nil {
			c.logger.Warn("watch typing", "chat", chatKey, "error", err)
			return nil, false
		}
		if !first && slices.Equal(typers, last) {
			return nil, false
		}
		first = false
		last = typers
		return typers, true
	})
}

// WatchPresence emits userID's presence once immediately, then whenever it
// goes online or offline, or its last-seen moves while offline.
func (c *Channel) WatchPresence(ctx context.Context, userID string) <-chan models.PresenceRecord {
	var last models.PresenceRecord
	first := true
	return watch(ctx, c, watchKey{kind: ChangePresence, key: userID}, func() (models.PresenceRecord, bool) {
		rec, err := c.Presence(ctx, userID)
		if err != nil {
			c.logger.Warn("watch presence", "user_id", userID, "error", err)
			return rec, false
		}
		if !first && rec.Online == last.Online && (rec.Online || rec.LastSeen.Equal(last.LastSeen)) {
			return rec, false
		}
		first = false
		last = rec
		return rec, true
	})
}

// watch registers the watcher and the poll ticker before returning, so that
// changes made right after the call are never missed.
func watch[T any](ctx context.Context, c *Channel, k watchKey, eval func() (T, bool)) <-chan T {
	out := make(chan T)
	notify := c.addWatcher(k)
	ticker := c.clock.NewTicker(c.cfg.PollInterval)

	go func() {
		defer close(out)
		defer ticker.Stop()
		defer c.removeWatcher(k, notify)

		emit := func() bool {
			v, ok := eval()
			if !ok {
				return true
			}
			select {
			case out <- v:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
			case <-ticker.C:
			}
			if !emit() {
				return
			}
		}
	}()
	return out
}
