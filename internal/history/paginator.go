// Package history pages older messages with a strict id-bound cursor,
// stable under concurrent inserts at the head and concurrent deletions.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chatsync/internal/domain"
)

// ErrRoomClosed reports a page load that resolved after its room was
// left; the result must be discarded, not merged into a stale view.
var ErrRoomClosed = errors.New("history: room closed")

// Source is the keyset page query against the message log. Both queries
// return newest-first and already exclude rows the user soft-deleted.
type Source interface {
	ListNewest(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error)
	ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]*domain.Message, error)
}

// Page is one loaded page in display order (ascending).
type Page struct {
	Messages []*domain.Message
	HasMore  bool
	// Cursor is the id of the oldest message returned so far.
	Cursor int64
}

// Paginator tracks one cursor per open room. hasMore is derived by
// probing for pageSize+1 rows, never by a separate count query. New live
// messages never move the cursor: it is a strict id bound, not an
// offset.
type Paginator struct {
	src      Source
	pageSize int

	mu    sync.Mutex
	rooms map[int64]*roomCursor
}

type roomCursor struct {
	cursor  int64
	hasMore bool
	gen     uint64
}

func New(src Source, pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Paginator{
		src:      src,
		pageSize: pageSize,
		rooms:    make(map[int64]*roomCursor),
	}
}

// LoadInitial fetches the newest page and (re)sets the room's cursor to
// the oldest returned id.
func (p *Paginator) LoadInitial(ctx context.Context, roomID int64) (Page, error) {
	p.mu.Lock()
	st, ok := p.rooms[roomID]
	if !ok {
		st = &roomCursor{}
		p.rooms[roomID] = st
	}
	st.gen++
	gen := st.gen
	p.mu.Unlock()

	rows, err := p.src.ListNewest(ctx, roomID, p.pageSize+1)
	if err != nil {
		return Page{}, fmt.Errorf("load initial room=%d: %w", roomID, err)
	}
	page := p.toPage(rows)

	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok = p.rooms[roomID]
	if !ok || st.gen != gen {
		return Page{}, ErrRoomClosed
	}
	st.cursor = page.Cursor
	st.hasMore = page.HasMore
	return page, nil
}

// LoadOlder fetches up to pageSize messages with id strictly less than
// cursor (the stored cursor when 0) and advances the cursor to the new
// oldest id. A call racing with Leave resolves into ErrRoomClosed so the
// result merges as a no-op. Two concurrent calls with the same cursor
// return overlapping pages; the view merge de-duplicates by id.
func (p *Paginator) LoadOlder(ctx context.Context, roomID, cursor int64) (Page, error) {
	p.mu.Lock()
	st, ok := p.rooms[roomID]
	if !ok {
		p.mu.Unlock()
		return Page{}, ErrRoomClosed
	}
	if cursor == 0 {
		cursor = st.cursor
	}
	gen := st.gen
	p.mu.Unlock()

	if cursor == 0 {
		return Page{}, nil
	}

	rows, err := p.src.ListBefore(ctx, roomID, cursor, p.pageSize+1)
	if err != nil {
		return Page{}, fmt.Errorf("load older room=%d: %w", roomID, err)
	}
	page := p.toPage(rows)

	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok = p.rooms[roomID]
	if !ok || st.gen != gen {
		return Page{}, ErrRoomClosed
	}
	if page.Cursor != 0 && (st.cursor == 0 || page.Cursor < st.cursor) {
		st.cursor = page.Cursor
	}
	st.hasMore = page.HasMore
	return page, nil
}

// HasMore reports whether older pages remain for a room.
func (p *Paginator) HasMore(roomID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.rooms[roomID]
	return ok && st.hasMore
}

// Cursor returns the room's current oldest-id bound.
func (p *Paginator) Cursor(roomID int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.rooms[roomID]
	if !ok {
		return 0
	}
	return st.cursor
}

// Leave drops the room's cursor; pending loads for it resolve into
// ErrRoomClosed.
func (p *Paginator) Leave(roomID int64) {
	p.mu.Lock()
	delete(p.rooms, roomID)
	p.mu.Unlock()
}

// toPage trims the probe row and reverses newest-first rows into display
// order.
func (p *Paginator) toPage(rows []*domain.Message) Page {
	hasMore := len(rows) > p.pageSize
	if hasMore {
		rows = rows[:p.pageSize]
	}
	var cursor int64
	if len(rows) > 0 {
		cursor = rows[len(rows)-1].ID
	}
	asc := make([]*domain.Message, len(rows))
	for i, m := range rows {
		asc[len(rows)-1-i] = m
	}
	return Page{Messages: asc, HasMore: hasMore, Cursor: cursor}
}
