package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

const streamBuffer = 256

// LocalStream connects a session to the hub without a network hop: the
// service's own process acts as both fan-out producer and consumer. Used
// for in-process deployments and throughout the tests.
type LocalStream struct {
	hub       *Hub
	inbound   Inbound
	userID    int64
	sessionID string

	mu     sync.Mutex
	joined map[int64]struct{}
	events chan Envelope
	closed bool
}

func NewLocalStream(hub *Hub, inbound Inbound, userID int64) *LocalStream {
	s := &LocalStream{
		hub:       hub,
		inbound:   inbound,
		userID:    userID,
		sessionID: uuid.NewString(),
		joined:    make(map[int64]struct{}),
		events:    make(chan Envelope, streamBuffer),
	}
	hub.Subscribe(TopicGlobal, s)
	hub.Subscribe(TopicPresence, s)
	hub.Subscribe(UserTopic(userID), s)
	return s
}

var _ Stream = (*LocalStream)(nil)
var _ Subscriber = (*LocalStream)(nil)

// SessionID identifies this stream for presence bookkeeping.
func (s *LocalStream) SessionID() string { return s.sessionID }

// Deliver implements Subscriber. Slow consumers lose frames instead of
// stalling the hub; the change feed covers the gap.
func (s *LocalStream) Deliver(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- env:
	default:
	}
}

func (s *LocalStream) Join(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("fanout: stream closed")
	}
	s.joined[roomID] = struct{}{}
	s.mu.Unlock()
	s.hub.Subscribe(RoomTopic(roomID), s)
	return nil
}

func (s *LocalStream) Leave(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	delete(s.joined, roomID)
	s.mu.Unlock()
	s.hub.Unsubscribe(RoomTopic(roomID), s)
	return nil
}

func (s *LocalStream) Publish(ctx context.Context, env Envelope) error {
	return s.inbound.HandleInbound(ctx, s.userID, s.sessionID, env)
}

func (s *LocalStream) Events() <-chan Envelope { return s.events }

func (s *LocalStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.Drop(s)
	close(s.events)
	return nil
}
