package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
)

// fakeLog serves pages from an in-memory descending id space.
type fakeLog struct {
	mu   sync.Mutex
	msgs []*domain.Message // newest first
}

func newFakeLog(ids ...int64) *fakeLog {
	l := &fakeLog{}
	base := time.Unix(1_700_000_000, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		l.msgs = append(l.msgs, &domain.Message{
			ID:        ids[i],
			RoomID:    1,
			CreatedAt: base.Add(time.Duration(ids[i]) * time.Second),
		})
	}
	return l
}

func (l *fakeLog) ListNewest(_ context.Context, _ int64, limit int) ([]*domain.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := limit
	if n > len(l.msgs) {
		n = len(l.msgs)
	}
	return l.msgs[:n], nil
}

func (l *fakeLog) ListBefore(_ context.Context, _ int64, beforeID int64, limit int) ([]*domain.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Message
	for _, m := range l.msgs {
		if m.ID >= beforeID {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func ids(msgs []*domain.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func seq(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestLoadInitialProbesForMore(t *testing.T) {
	log := newFakeLog(seq(1, 120)...)
	p := New(log, 50)

	page, err := p.LoadInitial(context.Background(), 1)
	require.NoError(t, err)

	assert.Len(t, page.Messages, 50)
	assert.True(t, page.HasMore)
	assert.Equal(t, seq(71, 120), ids(page.Messages), "display order is ascending")
	assert.Equal(t, int64(71), page.Cursor)
	assert.Equal(t, int64(71), p.Cursor(1))
}

func TestLoadOlderWalksBackToExhaustion(t *testing.T) {
	log := newFakeLog(seq(1, 120)...)
	p := New(log, 50)

	_, err := p.LoadInitial(context.Background(), 1)
	require.NoError(t, err)

	page, err := p.LoadOlder(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, seq(21, 70), ids(page.Messages))
	assert.True(t, page.HasMore)

	page, err = p.LoadOlder(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, seq(1, 20), ids(page.Messages))
	assert.False(t, page.HasMore)
	assert.False(t, p.HasMore(1))
}

func TestExactPageBoundary(t *testing.T) {
	// Exactly one page in the log: the probe row is absent, so hasMore
	// must come out false without an extra query.
	log := newFakeLog(seq(1, 50)...)
	p := New(log, 50)

	page, err := p.LoadInitial(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 50)
	assert.False(t, page.HasMore)
}

func TestEmptyRoom(t *testing.T) {
	p := New(newFakeLog(), 50)

	page, err := p.LoadInitial(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)

	page, err = p.LoadOlder(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestHeadInsertsDoNotShiftCursor(t *testing.T) {
	log := newFakeLog(seq(1, 60)...)
	p := New(log, 50)

	_, err := p.LoadInitial(context.Background(), 1)
	require.NoError(t, err)

	// New messages land at the head between page loads.
	log.mu.Lock()
	log.msgs = append([]*domain.Message{{ID: 62, RoomID: 1}, {ID: 61, RoomID: 1}}, log.msgs...)
	log.mu.Unlock()

	page, err := p.LoadOlder(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, seq(1, 10), ids(page.Messages), "id bound ignores head growth")
}

func TestLoadAfterLeaveIsNoOp(t *testing.T) {
	log := newFakeLog(seq(1, 60)...)
	p := New(log, 50)

	_, err := p.LoadInitial(context.Background(), 1)
	require.NoError(t, err)

	p.Leave(1)

	_, err = p.LoadOlder(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.Zero(t, p.Cursor(1))
}

func TestReopenResetsGeneration(t *testing.T) {
	log := newFakeLog(seq(1, 120)...)
	p := New(log, 50)

	_, err := p.LoadInitial(context.Background(), 1)
	require.NoError(t, err)
	_, err = p.LoadOlder(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(21), p.Cursor(1))

	// Reopening resets the cursor to the fresh newest page.
	page, err := p.LoadInitial(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(71), page.Cursor)
	assert.Equal(t, int64(71), p.Cursor(1))
}

func TestConcurrentLoadOlderNeverCrossesCursor(t *testing.T) {
	log := newFakeLog(seq(1, 120)...)
	p := New(log, 50)
	ctx := context.Background()

	_, err := p.LoadInitial(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 71, p.Cursor(1))

	// Two racing loads may read the same stored cursor and return
	// overlapping pages; the ordered view dedups by id, so the only
	// hard requirements are the strict id bound and a converged cursor.
	const n = 2
	var wg sync.WaitGroup
	pages := make([]Page, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pages[i], errs[i] = p.LoadOlder(ctx, 1, 0)
		}(i)
	}
	wg.Wait()

	minCursor := int64(1 << 62)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		for _, id := range ids(pages[i].Messages) {
			assert.Less(t, id, int64(71))
			assert.GreaterOrEqual(t, id, int64(1))
		}
		if c := pages[i].Cursor; c != 0 && c < minCursor {
			minCursor = c
		}
	}
	assert.EqualValues(t, minCursor, p.Cursor(1))
}
