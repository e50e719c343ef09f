package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
)

func TestBrokerFiltersByRoom(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter{Table: TableMessages, Column: "room_id", Value: 1})
	require.NoError(t, err)
	defer sub.Close()

	b.Publish(Event{Op: OpInsert, Table: TableMessages, RoomID: 1, Message: &domain.Message{ID: 10, RoomID: 1}})
	b.Publish(Event{Op: OpInsert, Table: TableMessages, RoomID: 2, Message: &domain.Message{ID: 11, RoomID: 2}})
	b.Publish(Event{Op: OpInsert, Table: TableDeletions, RoomID: 1, MessageID: 10, UserID: 5})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, int64(10), ev.Message.ID)
		assert.Equal(t, SourceChangeFeed, ev.Source, "broker stamps the source")
	case <-time.After(time.Second):
		t.Fatal("expected a matching event")
	}
	assert.Empty(t, sub.Events(), "other rooms and tables are filtered out")
}

func TestBrokerFiltersByUser(t *testing.T) {
	b := NewBroker()

	sub, err := b.Subscribe(context.Background(), Filter{Table: TableDeletions, Column: "user_id", Value: 7})
	require.NoError(t, err)
	defer sub.Close()

	b.Publish(Event{Op: OpInsert, Table: TableDeletions, RoomID: 1, MessageID: 9, UserID: 7})
	b.Publish(Event{Op: OpInsert, Table: TableDeletions, RoomID: 1, MessageID: 9, UserID: 8})

	require.Len(t, sub.Events(), 1)
	ev := <-sub.Events()
	assert.Equal(t, int64(7), ev.UserID)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	b := NewBroker()

	sub, err := b.Subscribe(context.Background(), Filter{Table: TableMessages})
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close is idempotent")

	b.Publish(Event{Op: OpInsert, Table: TableMessages, RoomID: 1})

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestContextCancelClosesSubscription(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := b.Subscribe(ctx, Filter{Table: TableMessages})
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-sub.Events():
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
