// Package syncer merges message events arriving on the fan-out channel
// and the change feed into one de-duplicated, ordered view per room.
package syncer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

// Config bounds the per-room dedup window.
type Config struct {
	WindowSize int
	WindowTTL  time.Duration
}

func (c *Config) withDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = 200
	}
	if c.WindowTTL == 0 {
		c.WindowTTL = 2 * time.Minute
	}
}

// Syncer accepts at-least-once deliveries from both channels and
// guarantees exactly one arrival notification per unique message id,
// with room order derived from (created_at, id) rather than arrival
// order. All per-room state is serialized per room id; no global lock
// spans event handling.
type Syncer struct {
	cfg   Config
	clock func() time.Time

	mu    sync.RWMutex
	rooms map[int64]*roomState

	cbMu      sync.RWMutex
	onArrived []func(roomID int64, msg *domain.Message)
	onUpdated []func(roomID int64, msg *domain.Message)
	onRemoved []func(roomID, messageID int64)
	onDropped func() // duplicate delivery counter hook
}

type roomState struct {
	mu     sync.Mutex
	joined bool
	win    *window
	view   []*domain.Message
	byID   map[int64]*domain.Message
	last   *domain.Message
}

func New(cfg Config) *Syncer {
	cfg.withDefaults()
	return &Syncer{
		cfg:   cfg,
		clock: time.Now,
		rooms: make(map[int64]*roomState),
	}
}

// OnMessageArrived registers a callback fired exactly once per unique
// created message, regardless of how many channels reported it.
func (s *Syncer) OnMessageArrived(fn func(roomID int64, msg *domain.Message)) {
	s.cbMu.Lock()
	s.onArrived = append(s.onArrived, fn)
	s.cbMu.Unlock()
}

// OnMessageUpdated registers a callback for read-state flips.
func (s *Syncer) OnMessageUpdated(fn func(roomID int64, msg *domain.Message)) {
	s.cbMu.Lock()
	s.onUpdated = append(s.onUpdated, fn)
	s.cbMu.Unlock()
}

// OnMessageRemoved registers a callback for soft-deletions applied to
// the loaded view.
func (s *Syncer) OnMessageRemoved(fn func(roomID, messageID int64)) {
	s.cbMu.Lock()
	s.onRemoved = append(s.onRemoved, fn)
	s.cbMu.Unlock()
}

// OnDuplicateDropped installs a hook invoked whenever a duplicate
// delivery is discarded.
func (s *Syncer) OnDuplicateDropped(fn func()) {
	s.cbMu.Lock()
	s.onDropped = fn
	s.cbMu.Unlock()
}

// Join starts maintaining the ordered view for a room. Live arrivals for
// rooms that are merely member rooms (not joined) still dedup and update
// the last-message projection so unread badges work, but no view is kept.
func (s *Syncer) Join(roomID int64) {
	st := s.room(roomID)
	st.mu.Lock()
	st.joined = true
	st.mu.Unlock()
}

// Leave drops the room's view and dedup window.
func (s *Syncer) Leave(roomID int64) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// OnDeliver accepts a message event from either channel. Duplicate
// creates are discarded silently; updates for messages not paged in are
// dropped, to be reflected when that page loads fresh from the log.
// Malformed events never propagate an error: they degrade to a log line.
func (s *Syncer) OnDeliver(ev feed.Event) {
	switch {
	case ev.Table == feed.TableMessages && ev.Op == feed.OpInsert:
		if ev.Message == nil {
			slog.Warn("syncer: insert event without message row", "source", ev.Source)
			return
		}
		s.deliverCreate(ev.Message)
	case ev.Table == feed.TableMessages && ev.Op == feed.OpUpdate:
		if ev.Message == nil {
			slog.Warn("syncer: update event without message row", "source", ev.Source)
			return
		}
		s.deliverUpdate(ev.Message)
	case ev.Table == feed.TableDeletions && ev.Op == feed.OpInsert:
		s.deliverRemove(ev.RoomID, ev.MessageID)
	default:
		slog.Debug("syncer: ignoring event", "table", ev.Table, "op", ev.Op)
	}
}

func (s *Syncer) deliverCreate(msg *domain.Message) {
	st := s.room(msg.RoomID)

	st.mu.Lock()
	dup := st.win.observe(msg.ID, s.clock())
	if !dup && st.joined {
		// The window is bounded; an id evicted by count or age can come
		// back while the message is still in the view.
		dup = !st.insertOrdered(msg)
	}
	if dup {
		st.mu.Unlock()
		s.cbMu.RLock()
		dropped := s.onDropped
		s.cbMu.RUnlock()
		if dropped != nil {
			dropped()
		}
		return
	}
	if st.last == nil || st.last.Before(msg) {
		st.last = msg
	}
	st.mu.Unlock()

	s.cbMu.RLock()
	cbs := s.onArrived
	s.cbMu.RUnlock()
	for _, fn := range cbs {
		fn(msg.RoomID, msg)
	}
}

func (s *Syncer) deliverUpdate(msg *domain.Message) {
	st := s.room(msg.RoomID)

	st.mu.Lock()
	cur, loaded := st.byID[msg.ID]
	if loaded {
		cur.ReadState = msg.ReadState
	}
	st.mu.Unlock()
	if !loaded {
		return
	}

	s.cbMu.RLock()
	cbs := s.onUpdated
	s.cbMu.RUnlock()
	for _, fn := range cbs {
		fn(msg.RoomID, cur)
	}
}

func (s *Syncer) deliverRemove(roomID, messageID int64) {
	st := s.room(roomID)

	st.mu.Lock()
	_, loaded := st.byID[messageID]
	if loaded {
		delete(st.byID, messageID)
		for i, m := range st.view {
			if m.ID == messageID {
				st.view = append(st.view[:i], st.view[i+1:]...)
				break
			}
		}
	}
	// The preview falls back to the newest remaining visible message.
	if st.last != nil && st.last.ID == messageID {
		st.last = nil
		if n := len(st.view); n > 0 {
			st.last = st.view[n-1]
		}
	}
	st.mu.Unlock()
	if !loaded {
		return
	}

	s.cbMu.RLock()
	cbs := s.onRemoved
	s.cbMu.RUnlock()
	for _, fn := range cbs {
		fn(roomID, messageID)
	}
}

// ApplyReadAll flips every loaded message not authored by readerID to
// read, mirroring a bulk mark-read reported over the fan-out channel.
func (s *Syncer) ApplyReadAll(roomID, readerID int64) {
	st := s.room(roomID)

	var flipped []*domain.Message
	st.mu.Lock()
	for _, m := range st.view {
		if m.AuthorID != readerID && m.ReadState != domain.StateRead {
			m.ReadState = domain.StateRead
			flipped = append(flipped, m)
		}
	}
	st.mu.Unlock()

	s.cbMu.RLock()
	cbs := s.onUpdated
	s.cbMu.RUnlock()
	for _, m := range flipped {
		for _, fn := range cbs {
			fn(roomID, m)
		}
	}
}

// MergePage folds a page loaded from the log into the room view,
// de-duplicating by id. Paged-in history never fires arrival
// notifications; ids still enter the dedup window so a racing live
// delivery of the same row stays silent.
func (s *Syncer) MergePage(roomID int64, msgs []*domain.Message) {
	st := s.room(roomID)

	st.mu.Lock()
	st.joined = true
	now := s.clock()
	for _, m := range msgs {
		st.win.observe(m.ID, now)
		st.insertOrdered(m)
		if st.last == nil || st.last.Before(m) {
			st.last = m
		}
	}
	st.mu.Unlock()
}

// View returns a snapshot of the room's ordered messages.
func (s *Syncer) View(roomID int64) []*domain.Message {
	st := s.room(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*domain.Message, len(st.view))
	copy(out, st.view)
	return out
}

// LastMessage returns the room's last-message projection.
func (s *Syncer) LastMessage(roomID int64) (*domain.Message, bool) {
	st := s.room(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.last, st.last != nil
}

// SeedLastMessage installs a projection loaded cold from the log. Live
// projections are never regressed.
func (s *Syncer) SeedLastMessage(roomID int64, msg *domain.Message) {
	st := s.room(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if msg != nil && (st.last == nil || st.last.Before(msg)) {
		st.last = msg
	}
}

func (s *Syncer) room(roomID int64) *roomState {
	s.mu.RLock()
	st, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.rooms[roomID]; ok {
		return st
	}
	st = &roomState{
		win:  newWindow(s.cfg.WindowSize, s.cfg.WindowTTL),
		byID: make(map[int64]*domain.Message),
	}
	s.rooms[roomID] = st
	return st
}

// insertOrdered places msg by (created_at, id) and reports whether it
// inserted; duplicates by id are ignored. Callers hold st.mu.
func (st *roomState) insertOrdered(msg *domain.Message) bool {
	if _, exists := st.byID[msg.ID]; exists {
		return false
	}
	i := sort.Search(len(st.view), func(i int) bool {
		return msg.Before(st.view[i])
	})
	st.view = append(st.view, nil)
	copy(st.view[i+1:], st.view[i:])
	st.view[i] = msg
	st.byID[msg.ID] = msg
	return true
}
