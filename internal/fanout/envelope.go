package fanout

import (
	"context"
	"fmt"
	"time"

	"chatsync/internal/domain"
)

// Envelope is one fan-out frame. The same shape is used on the wire
// (JSON over websocket) and in process.
type Envelope struct {
	Type      string          `json:"type"`
	RoomID    int64           `json:"room_id,omitempty"`
	UserID    int64           `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`

	// Send fields (client to server).
	Content       string             `json:"content,omitempty"`
	Kind          domain.MessageKind `json:"kind,omitempty"`
	AttachmentRef *string            `json:"attachment_ref,omitempty"`

	// Presence fields.
	Online   bool      `json:"online,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`

	// Connection state and errors (local to the client adapter).
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server-to-client envelope types.
const (
	TypeMessage        = "message"
	TypeMessagesRead   = "messages_read"
	TypeMessageDeleted = "message_deleted"
	TypePresence       = "presence"
	TypeError          = "error"
)

// TypeTyping flows both ways: a client announces typing, the gateway
// relays it to the room topic. Never persisted.
const TypeTyping = "typing"

// Client-to-server envelope types.
const (
	TypeSend      = "send"
	TypeMarkRead  = "mark_read"
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypeTrack     = "track"
	TypeUntrack   = "untrack"
	TypeHeartbeat = "heartbeat"
)

// TypeConnState frames are synthesized by the websocket adapter, never
// sent by the server.
const TypeConnState = "conn_state"

const (
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateFailed       = "failed"
)

// Topics. Every stream is implicitly subscribed to the global and
// presence topics; room topics are joined and left explicitly.
const (
	TopicGlobal   = "global"
	TopicPresence = "presence"
)

func RoomTopic(roomID int64) string {
	return fmt.Sprintf("room:%d", roomID)
}

// UserTopic addresses all streams of one user. Message fan-out targets
// member user topics so badges update even for rooms the client has not
// joined.
func UserTopic(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Stream is the client side of the fan-out service.
type Stream interface {
	// Join subscribes the stream to a room topic.
	Join(ctx context.Context, roomID int64) error
	// Leave unsubscribes the stream from a room topic.
	Leave(ctx context.Context, roomID int64) error
	// Publish sends a client envelope to the service.
	Publish(ctx context.Context, env Envelope) error
	// Events yields server envelopes. Closed when the stream ends.
	Events() <-chan Envelope
	Close() error
}

// Inbound processes client envelopes on the service side. It is
// implemented by the websocket gateway and consumed directly by the
// in-process stream.
type Inbound interface {
	HandleInbound(ctx context.Context, userID int64, sessionID string, env Envelope) error
}
