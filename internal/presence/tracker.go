// Package presence computes online/offline state per user from
// heartbeat and visibility announcements. Presence is a lease: it must
// be renewed, and expiry is the failure-detection mechanism for
// ungraceful disconnects that never send an explicit offline.
package presence

import (
	"context"
	"sync"
	"time"
)

// Config makes the lease timeout and grace period explicit.
type Config struct {
	// HeartbeatInterval is how often a visible session re-announces.
	HeartbeatInterval time.Duration
	// MissThreshold is the number of consecutive missed heartbeats after
	// which a session's lease lapses.
	MissThreshold int
}

func (c *Config) withDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.MissThreshold == 0 {
		c.MissThreshold = 3
	}
}

// leaseTTL is the lapse deadline for one announcement.
func (c Config) leaseTTL() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.MissThreshold)
}

// Record is the computed presence of one user. Ephemeral: rebuilt from
// live sessions on every process restart, never persisted.
type Record struct {
	UserID   int64     `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// Tracker aggregates per-session announcements into per-user presence.
// A user is online iff at least one of their sessions last announced
// online and has not lapsed. Updates are serialized on one mutex; the
// map is small and every operation is O(sessions of one user).
type Tracker struct {
	cfg   Config
	clock func() time.Time

	mu     sync.Mutex
	leases map[string]*lease
	users  map[int64]*userState

	cbMu sync.RWMutex
	subs []func(Record)
}

type lease struct {
	userID    int64
	renewedAt time.Time
}

type userState struct {
	online   bool
	lastSeen time.Time
	sessions map[string]struct{}
}

func NewTracker(cfg Config) *Tracker {
	cfg.withDefaults()
	return &Tracker{
		cfg:    cfg,
		clock:  time.Now,
		leases: make(map[string]*lease),
		users:  make(map[int64]*userState),
	}
}

// OnChange registers a callback fired on every user online/offline
// transition and on last_seen advances.
func (t *Tracker) OnChange(fn func(Record)) {
	t.cbMu.Lock()
	t.subs = append(t.subs, fn)
	t.cbMu.Unlock()
}

// Track announces a session online, creating or renewing its lease.
func (t *Tracker) Track(userID int64, sessionID string) {
	now := t.clock()

	t.mu.Lock()
	l, ok := t.leases[sessionID]
	if !ok {
		l = &lease{userID: userID}
		t.leases[sessionID] = l
	}
	l.renewedAt = now

	u := t.user(userID)
	u.sessions[sessionID] = struct{}{}
	rec, changed := t.recompute(userID, now)
	t.mu.Unlock()

	if changed {
		t.notify(rec)
	}
}

// Heartbeat renews a session's lease. A heartbeat for an unknown session
// (e.g. after a tracker restart) is treated as a fresh track, which is
// what makes presence rebuildable from live traffic alone.
func (t *Tracker) Heartbeat(userID int64, sessionID string) {
	t.Track(userID, sessionID)
}

// Untrack announces a session offline and releases its lease
// immediately. If the untrack never arrives (killed process, lost
// network), the lapse sweep is the fallback.
func (t *Tracker) Untrack(userID int64, sessionID string) {
	now := t.clock()

	t.mu.Lock()
	delete(t.leases, sessionID)
	u := t.user(userID)
	delete(u.sessions, sessionID)
	rec, changed := t.recompute(userID, now)
	t.mu.Unlock()

	if changed {
		t.notify(rec)
	}
}

// Online reports the computed state for one user.
func (t *Tracker) Online(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	return ok && u.online
}

// Snapshot returns the presence of every user the tracker has seen.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.users))
	for id, u := range t.users {
		out = append(out, Record{UserID: id, Online: u.online, LastSeen: u.lastSeen})
	}
	return out
}

// Run sweeps lapsed leases until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep expires every lease past its TTL. Exported indirectly through
// Run; called directly by tests with a fake clock.
func (t *Tracker) sweep() {
	now := t.clock()
	ttl := t.cfg.leaseTTL()

	var changed []Record
	t.mu.Lock()
	for sid, l := range t.leases {
		if now.Sub(l.renewedAt) <= ttl {
			continue
		}
		delete(t.leases, sid)
		u := t.user(l.userID)
		delete(u.sessions, sid)
		// The lapse time is authoritative for last_seen here: the last
		// renewal is the latest moment the session was provably alive.
		if rec, ok := t.recomputeAt(l.userID, l.renewedAt); ok {
			changed = append(changed, rec)
		}
	}
	t.mu.Unlock()

	for _, rec := range changed {
		t.notify(rec)
	}
}

func (t *Tracker) user(userID int64) *userState {
	u, ok := t.users[userID]
	if !ok {
		u = &userState{sessions: make(map[string]struct{})}
		t.users[userID] = u
	}
	return u
}

// recompute re-evaluates a user's online state. Callers hold t.mu.
func (t *Tracker) recompute(userID int64, now time.Time) (Record, bool) {
	return t.recomputeAt(userID, now)
}

func (t *Tracker) recomputeAt(userID int64, seenAt time.Time) (Record, bool) {
	u := t.user(userID)
	online := len(u.sessions) > 0
	changed := online != u.online
	u.online = online
	// last_seen never regresses.
	if seenAt.After(u.lastSeen) {
		u.lastSeen = seenAt
	}
	return Record{UserID: userID, Online: online, LastSeen: u.lastSeen}, changed
}

func (t *Tracker) notify(rec Record) {
	t.cbMu.RLock()
	subs := t.subs
	t.cbMu.RUnlock()
	for _, fn := range subs {
		fn(rec)
	}
}
