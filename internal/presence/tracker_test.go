package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(cfg Config) (*Tracker, *fakeClock) {
	t := NewTracker(cfg)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	t.clock = func() time.Time { return clock.now }
	return t, clock
}

func TestTrackAndUntrack(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	var events []Record
	tr.OnChange(func(r Record) { events = append(events, r) })

	tr.Track(1, "sess-a")
	assert.True(t, tr.Online(1))

	tr.Untrack(1, "sess-a")
	assert.False(t, tr.Online(1))

	require.Len(t, events, 2)
	assert.True(t, events[0].Online)
	assert.False(t, events[1].Online)
}

func TestMultipleSessionsOneUser(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	var transitions int
	tr.OnChange(func(Record) { transitions++ })

	tr.Track(1, "laptop")
	tr.Track(1, "phone")
	assert.Equal(t, 1, transitions, "second session must not re-announce online")

	tr.Untrack(1, "laptop")
	assert.True(t, tr.Online(1), "user stays online while any session lives")
	assert.Equal(t, 1, transitions)

	tr.Untrack(1, "phone")
	assert.False(t, tr.Online(1))
	assert.Equal(t, 2, transitions)
}

func TestLapseSweep(t *testing.T) {
	cfg := Config{HeartbeatInterval: 10 * time.Second, MissThreshold: 3}
	tr, clock := newTestTracker(cfg)

	tr.Track(1, "sess-a")
	started := clock.now

	// Two missed beats: still inside the lease.
	clock.advance(25 * time.Second)
	tr.sweep()
	assert.True(t, tr.Online(1))

	// Third miss lapses the lease.
	clock.advance(10 * time.Second)
	tr.sweep()
	assert.False(t, tr.Online(1))

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, started, snap[0].LastSeen, "last_seen is the last provable renewal, not the sweep time")
}

func TestHeartbeatRenewsLease(t *testing.T) {
	cfg := Config{HeartbeatInterval: 10 * time.Second, MissThreshold: 3}
	tr, clock := newTestTracker(cfg)

	tr.Track(1, "sess-a")
	clock.advance(25 * time.Second)
	tr.Heartbeat(1, "sess-a")
	clock.advance(25 * time.Second)
	tr.sweep()

	assert.True(t, tr.Online(1), "renewed lease survives the sweep")
}

func TestHeartbeatForUnknownSessionTracksFresh(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	tr.Heartbeat(7, "sess-new")
	assert.True(t, tr.Online(7))
}

func TestLastSeenNeverRegresses(t *testing.T) {
	tr, clock := newTestTracker(Config{})

	tr.Track(1, "sess-a")
	clock.advance(time.Minute)
	tr.Track(1, "sess-b")
	seen := tr.Snapshot()[0].LastSeen

	tr.Untrack(1, "sess-b")
	tr.Untrack(1, "sess-a")

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].LastSeen.Before(seen))
}
