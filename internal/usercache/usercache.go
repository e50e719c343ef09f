// Package usercache memoizes user-id to profile lookups so message
// authorship never triggers redundant fetches.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"chatsync/internal/cache"
	"chatsync/internal/domain"
)

// Fetcher loads profiles from the identity store. One call serves any
// number of ids.
type Fetcher interface {
	FetchByIDs(ctx context.Context, ids []int64) ([]*domain.User, error)
}

// Cache is a write-through profile cache. Get performs at most one
// underlying fetch per id: concurrent duplicate requests fan in through
// a singleflight group, and results populate the backing cache before
// being returned.
type Cache struct {
	store   cache.Cache
	fetcher Fetcher
	ttl     time.Duration
	group   singleflight.Group
}

func New(store cache.Cache, fetcher Fetcher, ttl time.Duration) *Cache {
	return &Cache{store: store, fetcher: fetcher, ttl: ttl}
}

func key(id int64) string { return fmt.Sprintf("user:%d", id) }

// Peek returns the cached profile without triggering a fetch. ok is
// false on a miss.
func (c *Cache) Peek(ctx context.Context, id int64) (*domain.User, bool) {
	raw, err := c.store.Get(ctx, key(id))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("usercache: fetch failed", "user_id", id, "err", err)
		}
		return nil, false
	}
	u := &domain.User{}
	if err := json.Unmarshal([]byte(raw), u); err != nil {
		return nil, false
	}
	return u, true
}

// Get returns the profile for id, fetching it once if uncached.
func (c *Cache) Get(ctx context.Context, id int64) (*domain.User, error) {
	if u, ok := c.Peek(ctx, id); ok {
		return u, nil
	}

	v, err, _ := c.group.Do(key(id), func() (any, error) {
		// Re-check under the flight: a concurrent Get may have filled it.
		if u, ok := c.Peek(ctx, id); ok {
			return u, nil
		}
		users, err := c.fetcher.FetchByIDs(ctx, []int64{id})
		if err != nil {
			return nil, fmt.Errorf("fetch user %d: %w", id, err)
		}
		if len(users) == 0 {
			return nil, domain.ErrNotFound
		}
		c.put(ctx, users[0])
		return users[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.User), nil
}

// GetBatch returns profiles for ids, issuing one fetch for all currently
// uncached ids. Unknown ids are simply absent from the result.
func (c *Cache) GetBatch(ctx context.Context, ids []int64) (map[int64]*domain.User, error) {
	res := make(map[int64]*domain.User, len(ids))
	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := c.Peek(ctx, id); ok {
			res[id] = u
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return res, nil
	}

	users, err := c.fetcher.FetchByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	for _, u := range users {
		c.put(ctx, u)
		res[u.ID] = u
	}
	return res, nil
}

// Invalidate drops the cached profile for id, for profile-edit
// propagation.
func (c *Cache) Invalidate(ctx context.Context, id int64) {
	if _, err := c.store.Del(ctx, key(id)); err != nil {
		slog.Warn("usercache: invalidate failed", "user_id", id, "err", err)
	}
}

func (c *Cache) put(ctx context.Context, u *domain.User) {
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key(u.ID), string(raw), c.ttl); err != nil {
		slog.Warn("usercache: cache write failed", "user_id", u.ID, "err", err)
	}
}
