package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListActive(ctx context.Context, offset, limit int) ([]*User, error)
	Update(ctx context.Context, u *User) error
}

// RoomRepository defines persistence operations for rooms and membership.
type RoomRepository interface {
	Create(ctx context.Context, r *Room, memberIDs []int64) error
	GetByID(ctx context.Context, id int64) (*Room, error)
	ListForUser(ctx context.Context, userID int64) ([]*Room, error)
	// FindDirect returns the existing direct room between the unordered
	// pair (a, b), or nil when none exists.
	FindDirect(ctx context.Context, a, b int64) (*Room, error)
	MemberIDs(ctx context.Context, roomID int64) ([]int64, error)
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
}

// MessageRepository defines persistence operations against the message log.
// List queries exclude messages the given user has soft-deleted.
type MessageRepository interface {
	// Create appends to the log; the store assigns ID and CreatedAt.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	// ListNewest returns up to limit newest messages, newest first.
	ListNewest(ctx context.Context, roomID, userID int64, limit int) ([]*Message, error)
	// ListBefore returns up to limit messages with id strictly less than
	// beforeID, newest first.
	ListBefore(ctx context.Context, roomID, userID, beforeID int64, limit int) ([]*Message, error)
	// MarkRead flips messages not authored by userID to read and returns
	// the number of affected rows.
	MarkRead(ctx context.Context, roomID, userID int64) (int64, error)
	// SoftDelete appends a per-user deletion record; the row itself is
	// never mutated.
	SoftDelete(ctx context.Context, messageID, userID int64) error
	// LastMessages returns the newest visible message per room in a
	// single query.
	LastMessages(ctx context.Context, userID int64, roomIDs []int64) (map[int64]*Message, error)
	// UnreadCounts returns, per room, the number of messages created
	// after the given cursor and not authored by userID, in a single
	// query across all rooms.
	UnreadCounts(ctx context.Context, userID int64, since map[int64]time.Time) (map[int64]int, error)
}
