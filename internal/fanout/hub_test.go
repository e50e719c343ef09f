package fanout

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSub struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *captureSub) Deliver(env Envelope) {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
}

func (c *captureSub) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func TestHubPublishReachesTopicOnly(t *testing.T) {
	h := NewHub()
	a, b := &captureSub{}, &captureSub{}

	h.Subscribe(RoomTopic(1), a)
	h.Subscribe(RoomTopic(2), b)

	h.Publish(RoomTopic(1), Envelope{Type: TypeMessage})

	assert.Equal(t, 1, a.count())
	assert.Zero(t, b.count())
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	a := &captureSub{}

	h.Subscribe(RoomTopic(1), a)
	h.Unsubscribe(RoomTopic(1), a)
	h.Publish(RoomTopic(1), Envelope{Type: TypeMessage})

	assert.Zero(t, a.count())
	assert.Zero(t, h.Subscribers(RoomTopic(1)))
}

func TestHubDropRemovesEverywhere(t *testing.T) {
	h := NewHub()
	a := &captureSub{}

	h.Subscribe(TopicGlobal, a)
	h.Subscribe(RoomTopic(1), a)
	h.Subscribe(UserTopic(9), a)
	h.Drop(a)

	h.Publish(TopicGlobal, Envelope{})
	h.Publish(RoomTopic(1), Envelope{})
	h.Publish(UserTopic(9), Envelope{})
	assert.Zero(t, a.count())
}

type nopInbound struct{}

func (nopInbound) HandleInbound(context.Context, int64, string, Envelope) error { return nil }

func TestLocalStreamImplicitTopics(t *testing.T) {
	h := NewHub()
	s := NewLocalStream(h, nopInbound{}, 7)
	defer s.Close()

	h.Publish(TopicGlobal, Envelope{Type: TypeMessage})
	h.Publish(TopicPresence, Envelope{Type: TypePresence})
	h.Publish(UserTopic(7), Envelope{Type: TypeMessagesRead})
	h.Publish(UserTopic(8), Envelope{Type: TypeMessagesRead})

	require.Len(t, s.Events(), 3, "global, presence and own user topic only")
}

func TestLocalStreamJoinLeave(t *testing.T) {
	h := NewHub()
	s := NewLocalStream(h, nopInbound{}, 7)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Join(ctx, 1))
	h.Publish(RoomTopic(1), Envelope{Type: TypeMessage})
	assert.Len(t, s.Events(), 1)

	<-s.Events()
	require.NoError(t, s.Leave(ctx, 1))
	h.Publish(RoomTopic(1), Envelope{Type: TypeMessage})
	assert.Empty(t, s.Events())
}

func TestLocalStreamCloseIsIdempotent(t *testing.T) {
	h := NewHub()
	s := NewLocalStream(h, nopInbound{}, 7)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// Deliveries after close are discarded, not panics on a closed chan.
	h.Publish(TopicGlobal, Envelope{Type: TypeMessage})

	_, open := <-s.Events()
	assert.False(t, open)
}
