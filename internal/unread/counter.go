// Package unread maintains per-room unread badges and the per-device
// "last open" read cursors they are computed from.
package unread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/kv"
)

// Source is the batched cold-load query: per room, the number of
// messages created after the given cursor and authored by someone else.
// One call covers all rooms; per-room N+1 queries are not an option.
type Source interface {
	UnreadCounts(ctx context.Context, since map[int64]time.Time) (map[int64]int, error)
}

// Counter tracks unread counts for one user on one device. Cursors are
// persisted in the injected key-value store and are monotonically
// non-decreasing; counts live in memory and are recomputed on cold load.
type Counter struct {
	userID int64
	store  kv.Store

	mu      sync.Mutex
	counts  map[int64]int
	cursors map[int64]time.Time
	open    int64 // currently-open room, 0 when none

	cbMu      sync.RWMutex
	onChanged []func(roomID int64, count int)
}

func New(userID int64, store kv.Store) *Counter {
	return &Counter{
		userID:  userID,
		store:   store,
		counts:  make(map[int64]int),
		cursors: make(map[int64]time.Time),
	}
}

// OnChanged registers a badge observer.
func (c *Counter) OnChanged(fn func(roomID int64, count int)) {
	c.cbMu.Lock()
	c.onChanged = append(c.onChanged, fn)
	c.cbMu.Unlock()
}

// ColdLoad recomputes all counts in one batched query. newest carries
// the creation time of each room's newest message; a room with no stored
// cursor is initialized to that timestamp and reported as zero; a user
// is never shown unread counts for history predating their first view.
func (c *Counter) ColdLoad(ctx context.Context, src Source, roomIDs []int64, newest map[int64]time.Time) (map[int64]int, error) {
	since := make(map[int64]time.Time)

	c.mu.Lock()
	for _, id := range roomIDs {
		cur, ok := c.cursor(ctx, id)
		if !ok {
			if at, has := newest[id]; has {
				c.setCursor(ctx, id, at)
			}
			// No cursor yet (or empty room): zero unread by definition.
			c.counts[id] = 0
			continue
		}
		since[id] = cur
	}
	c.mu.Unlock()

	counts := map[int64]int{}
	if len(since) > 0 {
		var err error
		counts, err = src.UnreadCounts(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("unread counts: %w", err)
		}
	}

	result := make(map[int64]int, len(roomIDs))
	c.mu.Lock()
	for _, id := range roomIDs {
		if _, batched := since[id]; batched {
			c.counts[id] = counts[id]
		}
		result[id] = c.counts[id]
	}
	c.mu.Unlock()

	for id, n := range result {
		c.notify(id, n)
	}
	return result, nil
}

// OnArrived applies a live arrival. Messages for the open room or
// authored by this user never bump a badge; the cursor itself only
// advances on explicit open or mark-read.
func (c *Counter) OnArrived(roomID int64, msg *domain.Message) {
	if msg.AuthorID == c.userID {
		return
	}

	c.mu.Lock()
	if roomID == c.open {
		c.mu.Unlock()
		return
	}
	if cur, ok := c.cursor(context.Background(), roomID); ok && !msg.CreatedAt.After(cur) {
		c.mu.Unlock()
		return
	}
	c.counts[roomID]++
	n := c.counts[roomID]
	c.mu.Unlock()

	c.notify(roomID, n)
}

// MarkRoomOpened resets the room's badge optimistically, before the
// message page finishes loading. The cursor advances later via
// PageLoaded; this ordering prevents a cleared badge from reappearing in
// a follow-up recompute.
func (c *Counter) MarkRoomOpened(roomID int64) {
	c.mu.Lock()
	c.open = roomID
	c.counts[roomID] = 0
	c.mu.Unlock()

	c.notify(roomID, 0)
}

// PageLoaded advances the cursor to the newest loaded message once the
// open room's page load completes.
func (c *Counter) PageLoaded(ctx context.Context, roomID int64, newestCreatedAt time.Time) {
	c.mu.Lock()
	c.setCursor(ctx, roomID, newestCreatedAt)
	c.mu.Unlock()
}

// RoomClosed clears the open-room marker.
func (c *Counter) RoomClosed(roomID int64) {
	c.mu.Lock()
	if c.open == roomID {
		c.open = 0
	}
	c.mu.Unlock()
}

// Count returns the current badge for a room.
func (c *Counter) Count(roomID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[roomID]
}

// Counts returns a snapshot of all badges.
func (c *Counter) Counts() map[int64]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]int, len(c.counts))
	for id, n := range c.counts {
		out[id] = n
	}
	return out
}

func (c *Counter) key(roomID int64) string {
	return fmt.Sprintf("lastOpen/%d/%d", c.userID, roomID)
}

// cursor returns the room's cursor, consulting the durable store on
// first touch. Callers hold c.mu.
func (c *Counter) cursor(ctx context.Context, roomID int64) (time.Time, bool) {
	if cur, ok := c.cursors[roomID]; ok {
		return cur, true
	}
	raw, err := c.store.Get(ctx, c.key(roomID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			slog.Warn("unread: read cursor failed", "room_id", roomID, "err", err)
		}
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		slog.Warn("unread: bad cursor value", "room_id", roomID, "err", err)
		return time.Time{}, false
	}
	c.cursors[roomID] = at
	return at, true
}

// setCursor persists a monotonically non-decreasing cursor. Callers
// hold c.mu.
func (c *Counter) setCursor(ctx context.Context, roomID int64, at time.Time) {
	if cur, ok := c.cursor(ctx, roomID); ok && !at.After(cur) {
		return
	}
	c.cursors[roomID] = at
	if err := c.store.Set(ctx, c.key(roomID), at.Format(time.RFC3339Nano)); err != nil {
		slog.Warn("unread: persist cursor failed", "room_id", roomID, "err", err)
	}
}

func (c *Counter) notify(roomID int64, n int) {
	c.cbMu.RLock()
	subs := c.onChanged
	c.cbMu.RUnlock()
	for _, fn := range subs {
		fn(roomID, n)
	}
}
