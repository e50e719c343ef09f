package domain

import "time"

// MessageKind classifies message content.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindImage   MessageKind = "image"
	KindFile    MessageKind = "file"
	KindExpired MessageKind = "expired"
)

// ReadState tracks whether a message has been acknowledged by a recipient.
type ReadState string

const (
	StateSent ReadState = "sent"
	StateRead ReadState = "read"
)

// RoomKind distinguishes direct (two-member) rooms from groups.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          *string   `db:"email" json:"email,omitempty"`
	AvatarURL      *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Room represents a chat room (direct or group).
type Room struct {
	ID        int64     `db:"id" json:"id"`
	Name      *string   `db:"name" json:"name,omitempty"`
	Kind      RoomKind  `db:"kind" json:"kind"`
	CreatedBy int64     `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RoomMember represents the membership of a user in a room.
type RoomMember struct {
	UserID   int64     `db:"user_id" json:"user_id"`
	RoomID   int64     `db:"room_id" json:"room_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// Message represents a single chat message. ID and CreatedAt are assigned
// by the message log on insert; ID is monotonic per log, so (CreatedAt, ID)
// is a total order within a room.
type Message struct {
	ID            int64       `db:"id" json:"id"`
	RoomID        int64       `db:"room_id" json:"room_id"`
	AuthorID      int64       `db:"author_id" json:"author_id"`
	Content       string      `db:"content" json:"content"`
	AttachmentRef *string     `db:"attachment_ref" json:"attachment_ref,omitempty"`
	Kind          MessageKind `db:"kind" json:"kind"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	ReadState     ReadState   `db:"read_state" json:"read_state"`
}

// Before reports whether m sorts strictly before other in room display
// order: by creation timestamp, numeric id as tie-break.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
