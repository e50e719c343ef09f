// Package session is the UI-facing surface of the sync engine: one
// Session per connected client, wiring the message synchronizer, unread
// counter, presence announcer, pagination and user cache behind a small
// observer API. All collaborators are injected interfaces, so a session
// runs in-process against the server's own store and hub or remotely
// over a websocket stream.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chatsync/internal/domain"
	"chatsync/internal/fanout"
	"chatsync/internal/feed"
	"chatsync/internal/history"
	"chatsync/internal/kv"
	"chatsync/internal/metrics"
	"chatsync/internal/presence"
	"chatsync/internal/syncer"
	"chatsync/internal/unread"
	"chatsync/internal/usercache"
)

// MaxContentRunes bounds message content, checked locally before any
// network call.
const MaxContentRunes = 2000

// Log is the message-log contract the engine needs, already bound to
// the session's user (list queries exclude this user's soft-deletions).
type Log interface {
	history.Source
	unread.Source
	LastMessages(ctx context.Context, roomIDs []int64) (map[int64]*domain.Message, error)
}

// Config tunes one session.
type Config struct {
	UserID    int64
	PageSize  int
	Heartbeat time.Duration
	Window    syncer.Config
}

// MessageView is a message with its author's profile attached when the
// cache could resolve it. Author stays nil until the asynchronous
// backfill lands; display never waits for a profile lookup.
type MessageView struct {
	*domain.Message
	Author *domain.User
}

// Session is one logical actor per connected client. A single event
// loop pumps both delivery channels into the synchronizer, so every
// state mutation for this session happens on one goroutine.
type Session struct {
	cfg     Config
	log     Log
	stream  fanout.Stream
	changes feed.Feed
	users   *usercache.Cache

	sync      *syncer.Syncer
	unread    *unread.Counter
	pager     *history.Paginator
	announcer *presence.Announcer

	mu       sync.Mutex
	subs     map[int64]feed.Subscription
	delSub   feed.Subscription
	presence map[int64]presence.Record
	started  bool

	feedCh chan feed.Event
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cbMu        sync.RWMutex
	onArrived   []func(roomID int64, msg MessageView)
	onUpdated   []func(roomID int64, msg MessageView)
	onRemoved   []func(roomID, messageID int64)
	onUnread    []func(roomID int64, count int)
	onPresence  []func(presence.Record)
	onTyping    []func(roomID, userID int64)
	onConnState []func(state string)
}

// New builds a session. cursors is the client-local durable store the
// read cursors persist in (pebble in real deployments, memory in tests).
func New(cfg Config, msgLog Log, stream fanout.Stream, changes feed.Feed, users *usercache.Cache, cursors kv.Store) *Session {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	s := &Session{
		cfg:      cfg,
		log:      msgLog,
		stream:   stream,
		changes:  changes,
		users:    users,
		sync:     syncer.New(cfg.Window),
		unread:   unread.New(cfg.UserID, cursors),
		pager:    history.New(msgLog, cfg.PageSize),
		subs:     make(map[int64]feed.Subscription),
		presence: make(map[int64]presence.Record),
		feedCh:   make(chan feed.Event, 256),
	}
	s.announcer = presence.NewAnnouncer(stream, cfg.Heartbeat)

	s.sync.OnMessageArrived(s.handleArrived)
	s.sync.OnMessageUpdated(s.handleUpdated)
	s.sync.OnMessageRemoved(s.handleRemoved)
	s.sync.OnDuplicateDropped(metrics.DuplicatesDropped.Inc)
	s.unread.OnChanged(s.handleUnread)
	return s
}

func (s *Session) OnMessageArrived(fn func(roomID int64, msg MessageView)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onArrived = append(s.onArrived, fn)
}

func (s *Session) OnMessageUpdated(fn func(roomID int64, msg MessageView)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onUpdated = append(s.onUpdated, fn)
}

func (s *Session) OnMessageRemoved(fn func(roomID, messageID int64)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onRemoved = append(s.onRemoved, fn)
}

func (s *Session) OnUnreadChanged(fn func(roomID int64, count int)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onUnread = append(s.onUnread, fn)
}

func (s *Session) OnPresenceChanged(fn func(presence.Record)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onPresence = append(s.onPresence, fn)
}

// OnTyping observes typing indicators from other members of joined
// rooms. Indicators are ephemeral and never persisted.
func (s *Session) OnTyping(fn func(roomID, userID int64)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onTyping = append(s.onTyping, fn)
}

// OnConnState observes transport state: connected, reconnecting, or
// failed once the bounded reconnect budget is spent.
func (s *Session) OnConnState(fn func(state string)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onConnState = append(s.onConnState, fn)
}

// Start subscribes the per-user deletion feed, begins announcing
// presence and launches the event loop. Register observers first.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session: already started")
	}
	s.started = true
	s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)

	delSub, err := s.changes.Subscribe(ctx, feed.Filter{
		Table:  feed.TableDeletions,
		Column: "user_id",
		Value:  s.cfg.UserID,
	})
	if err != nil {
		return fmt.Errorf("subscribe deletions: %w", err)
	}
	s.mu.Lock()
	s.delSub = delSub
	s.mu.Unlock()
	s.pump(ctx, delSub)

	s.announcer.SetPhase(ctx, presence.Subscribed)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.announcer.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	return nil
}

// Close stops the event loop, announces departure and releases the
// stream. Safe to call once.
func (s *Session) Close() error {
	s.announcer.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for id, sub := range s.subs {
		sub.Close()
		delete(s.subs, id)
	}
	if s.delSub != nil {
		s.delSub.Close()
	}
	s.mu.Unlock()
	err := s.stream.Close()
	s.wg.Wait()
	return err
}

// Join subscribes both delivery channels for a room and starts
// maintaining its ordered view.
func (s *Session) Join(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	if _, ok := s.subs[roomID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.stream.Join(ctx, roomID); err != nil {
		return fmt.Errorf("join room %d: %w", roomID, err)
	}
	sub, err := s.changes.Subscribe(ctx, feed.Filter{
		Table:  feed.TableMessages,
		Column: "room_id",
		Value:  roomID,
	})
	if err != nil {
		return fmt.Errorf("subscribe room %d: %w", roomID, err)
	}

	s.mu.Lock()
	s.subs[roomID] = sub
	s.mu.Unlock()

	s.sync.Join(roomID)
	s.pump(ctx, sub)
	return nil
}

// Leave tears down both channels for a room. In-flight page loads for
// the room resolve into no-ops.
func (s *Session) Leave(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	sub, ok := s.subs[roomID]
	if ok {
		delete(s.subs, roomID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	sub.Close()
	s.sync.Leave(roomID)
	s.pager.Leave(roomID)
	s.unread.RoomClosed(roomID)
	return s.stream.Leave(ctx, roomID)
}

// Send validates content locally and publishes it to the fan-out
// channel. The message surfaces back through normal delivery once the
// server assigns its identity.
func (s *Session) Send(ctx context.Context, roomID int64, content string, attachmentRef *string, kind domain.MessageKind) error {
	content = strings.TrimSpace(content)
	if content == "" && attachmentRef == nil {
		return fmt.Errorf("%w: empty message", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return fmt.Errorf("%w: content exceeds %d characters", domain.ErrInvalidInput, MaxContentRunes)
	}
	if kind == "" {
		kind = domain.KindText
	}
	return s.stream.Publish(ctx, fanout.Envelope{
		Type:          fanout.TypeSend,
		RoomID:        roomID,
		Content:       content,
		Kind:          kind,
		AttachmentRef: attachmentRef,
	})
}

// Typing announces that this user is composing in roomID. Fire and
// forget; the server relays it to the room topic without persisting.
func (s *Session) Typing(ctx context.Context, roomID int64) error {
	return s.stream.Publish(ctx, fanout.Envelope{
		Type:   fanout.TypeTyping,
		RoomID: roomID,
	})
}

// MarkRoomOpened resets the room's badge optimistically, advances the
// durable cursor and tells the server to flip read receipts. The badge
// drop must not wait for the round trip.
func (s *Session) MarkRoomOpened(ctx context.Context, roomID int64) error {
	s.unread.MarkRoomOpened(roomID)
	return s.stream.Publish(ctx, fanout.Envelope{
		Type:   fanout.TypeMarkRead,
		RoomID: roomID,
	})
}

// LoadInitial fetches the newest page for a room, merges it into the
// ordered view and advances the unread cursor to the page's newest
// message. Returns messages in ascending order.
func (s *Session) LoadInitial(ctx context.Context, roomID int64) ([]MessageView, bool, error) {
	page, err := s.pager.LoadInitial(ctx, roomID)
	if err == history.ErrRoomClosed {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.sync.MergePage(roomID, page.Messages)
	if n := len(page.Messages); n > 0 {
		newest := page.Messages[n-1]
		s.unread.PageLoaded(ctx, roomID, newest.CreatedAt)
		s.sync.SeedLastMessage(roomID, newest)
	}
	return s.enrich(ctx, page.Messages), page.HasMore, nil
}

// LoadOlder fetches the page strictly before cursor (or the stored
// cursor when zero). A stale load racing a Leave is silently dropped.
func (s *Session) LoadOlder(ctx context.Context, roomID, cursor int64) ([]MessageView, bool, error) {
	page, err := s.pager.LoadOlder(ctx, roomID, cursor)
	if err == history.ErrRoomClosed {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.sync.MergePage(roomID, page.Messages)
	return s.enrich(ctx, page.Messages), page.HasMore, nil
}

// RefreshRooms cold-loads unread badges and last-message previews for
// the room list in two batched queries, never one per room.
func (s *Session) RefreshRooms(ctx context.Context, roomIDs []int64) error {
	if len(roomIDs) == 0 {
		return nil
	}
	last, err := s.log.LastMessages(ctx, roomIDs)
	if err != nil {
		return fmt.Errorf("last messages: %w", err)
	}
	newest := make(map[int64]time.Time, len(last))
	for roomID, msg := range last {
		s.sync.SeedLastMessage(roomID, msg)
		newest[roomID] = msg.CreatedAt
	}
	if _, err := s.unread.ColdLoad(ctx, s.log, roomIDs, newest); err != nil {
		return fmt.Errorf("unread counts: %w", err)
	}
	return nil
}

// View returns the current ordered window for a joined room.
func (s *Session) View(roomID int64) []*domain.Message { return s.sync.View(roomID) }

// LastMessage returns the room-list preview for a room, nil when none
// is known yet.
func (s *Session) LastMessage(roomID int64) *domain.Message {
	msg, ok := s.sync.LastMessage(roomID)
	if !ok {
		return nil
	}
	return msg
}

// Unread returns the current badge for a room.
func (s *Session) Unread(roomID int64) int { return s.unread.Count(roomID) }

// Presence returns the last observed record for a user.
func (s *Session) Presence(userID int64) (presence.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.presence[userID]
	return rec, ok
}

// SetVisible reflects page visibility: hidden sessions stop counting
// toward presence without closing the stream.
func (s *Session) SetVisible(ctx context.Context, visible bool) {
	s.announcer.SetVisible(ctx, visible)
}

// Author resolves a profile from cache without blocking.
func (s *Session) Author(ctx context.Context, userID int64) *domain.User {
	u, _ := s.users.Peek(ctx, userID)
	return u
}

// pump forwards one feed subscription into the session's single event
// loop until the subscription closes.
func (s *Session) pump(ctx context.Context, sub feed.Subscription) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				select {
				case s.feedCh <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Session) loop(ctx context.Context) {
	events := s.stream.Events()
	for {
		select {
		case env, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.dispatchEnvelope(ctx, env)
		case ev := <-s.feedCh:
			s.sync.OnDeliver(ev)
		case <-ctx.Done():
			return
		}
	}
}

// dispatchEnvelope translates fan-out frames into synchronizer events.
// Both channels converge on OnDeliver, which owns deduplication.
func (s *Session) dispatchEnvelope(ctx context.Context, env fanout.Envelope) {
	switch env.Type {
	case fanout.TypeMessage:
		if env.Message == nil {
			slog.Warn("session: message frame without payload", "user_id", s.cfg.UserID)
			return
		}
		s.sync.OnDeliver(feed.Event{
			Source:  feed.SourceFanout,
			Op:      feed.OpInsert,
			Table:   feed.TableMessages,
			RoomID:  env.RoomID,
			Message: env.Message,
		})
	case fanout.TypeMessagesRead:
		s.sync.ApplyReadAll(env.RoomID, env.UserID)
	case fanout.TypeMessageDeleted:
		if env.UserID != s.cfg.UserID {
			return
		}
		s.sync.OnDeliver(feed.Event{
			Source:    feed.SourceFanout,
			Op:        feed.OpInsert,
			Table:     feed.TableDeletions,
			RoomID:    env.RoomID,
			MessageID: env.MessageID,
			UserID:    env.UserID,
		})
	case fanout.TypePresence:
		rec := presence.Record{UserID: env.UserID, Online: env.Online, LastSeen: env.LastSeen}
		s.mu.Lock()
		prev, had := s.presence[env.UserID]
		if had && rec.LastSeen.Before(prev.LastSeen) {
			rec.LastSeen = prev.LastSeen
		}
		s.presence[env.UserID] = rec
		s.mu.Unlock()
		s.firePresence(rec)
	case fanout.TypeTyping:
		if env.UserID == s.cfg.UserID {
			return
		}
		s.fireTyping(env.RoomID, env.UserID)
	case fanout.TypeConnState:
		switch env.State {
		case fanout.StateConnected:
			s.announcer.SetPhase(ctx, presence.Subscribed)
		case fanout.StateReconnecting:
			s.announcer.SetPhase(ctx, presence.Connecting)
		case fanout.StateFailed:
			s.announcer.SetPhase(ctx, presence.Disconnected)
		}
		s.fireConnState(env.State)
	case fanout.TypeError:
		slog.Error("session: server error", "user_id", s.cfg.UserID, "error", env.Error)
	}
}

// handleArrived runs once per distinct message regardless of how many
// channel copies arrived. The author profile is attached from cache
// when warm and backfilled asynchronously when cold.
func (s *Session) handleArrived(roomID int64, msg *domain.Message) {
	s.unread.OnArrived(roomID, msg)

	view := MessageView{Message: msg}
	view.Author, _ = s.users.Peek(context.Background(), msg.AuthorID)
	s.fireArrived(roomID, view)

	if view.Author == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			author, err := s.users.Get(ctx, msg.AuthorID)
			if err != nil {
				slog.Warn("session: resolve author failed", "user_id", s.cfg.UserID, "author_id", msg.AuthorID, "err", err)
				return
			}
			s.fireUpdated(roomID, MessageView{Message: msg, Author: author})
		}()
	}
}

func (s *Session) handleUpdated(roomID int64, msg *domain.Message) {
	view := MessageView{Message: msg}
	view.Author, _ = s.users.Peek(context.Background(), msg.AuthorID)
	s.fireUpdated(roomID, view)
}

func (s *Session) handleRemoved(roomID, messageID int64) {
	s.cbMu.RLock()
	fns := s.onRemoved
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(roomID, messageID)
	}
}

func (s *Session) handleUnread(roomID int64, count int) {
	s.cbMu.RLock()
	fns := s.onUnread
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(roomID, count)
	}
}

func (s *Session) fireArrived(roomID int64, view MessageView) {
	s.cbMu.RLock()
	fns := s.onArrived
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(roomID, view)
	}
}

func (s *Session) fireUpdated(roomID int64, view MessageView) {
	s.cbMu.RLock()
	fns := s.onUpdated
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(roomID, view)
	}
}

func (s *Session) firePresence(rec presence.Record) {
	s.cbMu.RLock()
	fns := s.onPresence
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(rec)
	}
}

func (s *Session) fireTyping(roomID, userID int64) {
	s.cbMu.RLock()
	fns := s.onTyping
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(roomID, userID)
	}
}

func (s *Session) fireConnState(state string) {
	s.cbMu.RLock()
	fns := s.onConnState
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(state)
	}
}

// enrich attaches author profiles to a page in one batched cache
// lookup. Profiles that cannot be resolved leave Author nil.
func (s *Session) enrich(ctx context.Context, msgs []*domain.Message) []MessageView {
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.AuthorID)
	}
	authors, err := s.users.GetBatch(ctx, ids)
	if err != nil {
		slog.Warn("session: resolve authors failed", "user_id", s.cfg.UserID, "err", err)
		authors = nil
	}
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = MessageView{Message: m, Author: authors[m.AuthorID]}
	}
	return views
}
