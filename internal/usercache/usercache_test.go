package usercache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/cache"
	"chatsync/internal/domain"
)

type fakeFetcher struct {
	mu    sync.Mutex
	users map[int64]*domain.User
	calls atomic.Int64
	gate  chan struct{} // when set, FetchByIDs blocks until closed
}

func (f *fakeFetcher) FetchByIDs(_ context.Context, ids []int64) ([]*domain.User, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func user(id int64, name string) *domain.User {
	return &domain.User{ID: id, Username: name, IsActive: true}
}

func newTestCache(f *fakeFetcher) *Cache {
	return New(cache.NewMemory(), f, 10*time.Minute)
}

func TestGetFetchesOnceThenServesFromCache(t *testing.T) {
	f := &fakeFetcher{users: map[int64]*domain.User{1: user(1, "alice")}}
	c := newTestCache(f)
	ctx := context.Background()

	u, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestGetUnknownUser(t *testing.T) {
	f := &fakeFetcher{users: map[int64]*domain.User{}}
	c := newTestCache(f)

	_, err := c.Get(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentGetsFanIn(t *testing.T) {
	f := &fakeFetcher{
		users: map[int64]*domain.User{1: user(1, "alice")},
		gate:  make(chan struct{}),
	}
	c := newTestCache(f)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := c.Get(ctx, 1)
			assert.NoError(t, err)
			assert.Equal(t, "alice", u.Username)
		}()
	}

	// Let the goroutines pile up on the in-flight fetch, then release it.
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int64(1), f.calls.Load(), "duplicate requests share one fetch")
}

func TestPeekNeverFetches(t *testing.T) {
	f := &fakeFetcher{users: map[int64]*domain.User{1: user(1, "alice")}}
	c := newTestCache(f)
	ctx := context.Background()

	_, ok := c.Peek(ctx, 1)
	assert.False(t, ok)
	assert.Zero(t, f.calls.Load())

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)

	u, ok := c.Peek(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "alice", u.Username)
}

func TestGetBatchFetchesOnlyMisses(t *testing.T) {
	f := &fakeFetcher{users: map[int64]*domain.User{
		1: user(1, "alice"),
		2: user(2, "bob"),
		3: user(3, "carol"),
	}}
	c := newTestCache(f)
	ctx := context.Background()

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.calls.Load())

	res, err := c.GetBatch(ctx, []int64{1, 2, 3, 2, 99})
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.calls.Load(), "cached and duplicate ids never refetch")
	assert.Len(t, res, 3)
	assert.Equal(t, "bob", res[2].Username)
	assert.NotContains(t, res, int64(99), "unknown ids are absent, not errors")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	f := &fakeFetcher{users: map[int64]*domain.User{1: user(1, "alice")}}
	c := newTestCache(f)
	ctx := context.Background()

	_, err := c.Get(ctx, 1)
	require.NoError(t, err)

	f.mu.Lock()
	f.users[1] = user(1, "alice-renamed")
	f.mu.Unlock()
	c.Invalidate(ctx, 1)

	u, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice-renamed", u.Username)
	assert.Equal(t, int64(2), f.calls.Load())
}
