package feed

import (
	"context"

	"chatsync/internal/domain"
)

// Source identifies which delivery channel produced an event. The same
// logical row change arrives on both; the synchronizer collapses them.
type Source string

const (
	SourceFanout     Source = "fanout"
	SourceChangeFeed Source = "changefeed"
)

// Op is the row-level operation an event describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Table names carried on events.
const (
	TableMessages  = "messages"
	TableDeletions = "message_deletions"
)

// Event is a row-level change notification. For TableMessages events the
// Message field carries the row; for TableDeletions events MessageID and
// UserID identify the per-user deletion record.
type Event struct {
	Source    Source          `json:"source"`
	Op        Op              `json:"op"`
	Table     string          `json:"table"`
	RoomID    int64           `json:"room_id,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`
	UserID    int64           `json:"user_id,omitempty"`
}

// Filter selects events by table and a single equality predicate on
// either the room_id or user_id column.
type Filter struct {
	Table  string
	Column string // "room_id" or "user_id"
	Value  int64
}

// Matches reports whether ev satisfies the filter.
func (f Filter) Matches(ev Event) bool {
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	switch f.Column {
	case "":
		return true
	case "room_id":
		return ev.RoomID == f.Value
	case "user_id":
		return ev.UserID == f.Value
	}
	return false
}

// Subscription is a live change-feed subscription. Events is closed when
// the subscription ends.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Feed is the change-feed collaborator contract: filtered row-level
// insert/update/delete notifications.
type Feed interface {
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
}
