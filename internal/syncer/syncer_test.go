package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

func msg(id, roomID int64, at time.Time) *domain.Message {
	return &domain.Message{
		ID:        id,
		RoomID:    roomID,
		AuthorID:  1,
		Content:   "hello",
		Kind:      domain.KindText,
		CreatedAt: at,
		ReadState: domain.StateSent,
	}
}

func insertEvent(src feed.Source, m *domain.Message) feed.Event {
	return feed.Event{
		Source:  src,
		Op:      feed.OpInsert,
		Table:   feed.TableMessages,
		RoomID:  m.RoomID,
		Message: m,
	}
}

func TestDualChannelDeliveryCollapses(t *testing.T) {
	s := New(Config{})
	s.Join(42)

	var arrived []int64
	s.OnMessageArrived(func(roomID int64, m *domain.Message) {
		arrived = append(arrived, m.ID)
	})
	var dropped int
	s.OnDuplicateDropped(func() { dropped++ })

	now := time.Now()
	m := msg(101, 42, now)

	// Same row reported by the socket first and the change feed shortly
	// after. The second sighting must be silent.
	s.OnDeliver(insertEvent(feed.SourceFanout, m))
	s.OnDeliver(insertEvent(feed.SourceChangeFeed, msg(101, 42, now)))

	assert.Equal(t, []int64{101}, arrived)
	assert.Equal(t, 1, dropped)
	assert.Len(t, s.View(42), 1)
}

func TestOrderingByCreatedAtThenID(t *testing.T) {
	s := New(Config{})
	s.Join(1)

	base := time.Now()
	// Delivered out of order; id 5 and 6 share a timestamp.
	s.OnDeliver(insertEvent(feed.SourceFanout, msg(6, 1, base.Add(time.Second))))
	s.OnDeliver(insertEvent(feed.SourceFanout, msg(3, 1, base)))
	s.OnDeliver(insertEvent(feed.SourceChangeFeed, msg(5, 1, base.Add(time.Second))))

	view := s.View(1)
	require.Len(t, view, 3)
	assert.Equal(t, int64(3), view[0].ID)
	assert.Equal(t, int64(5), view[1].ID)
	assert.Equal(t, int64(6), view[2].ID)
}

func TestUpdateForUnloadedMessageIsDropped(t *testing.T) {
	s := New(Config{})
	s.Join(1)

	var updated int
	s.OnMessageUpdated(func(int64, *domain.Message) { updated++ })

	m := msg(9, 1, time.Now())
	m.ReadState = domain.StateRead
	s.OnDeliver(feed.Event{
		Source:  feed.SourceChangeFeed,
		Op:      feed.OpUpdate,
		Table:   feed.TableMessages,
		RoomID:  1,
		Message: m,
	})

	assert.Zero(t, updated)
	assert.Empty(t, s.View(1))
}

func TestUpdateFlipsLoadedMessage(t *testing.T) {
	s := New(Config{})
	s.Join(1)

	m := msg(9, 1, time.Now())
	s.OnDeliver(insertEvent(feed.SourceFanout, m))

	var updated *domain.Message
	s.OnMessageUpdated(func(_ int64, m *domain.Message) { updated = m })

	flipped := *m
	flipped.ReadState = domain.StateRead
	s.OnDeliver(feed.Event{
		Source:  feed.SourceChangeFeed,
		Op:      feed.OpUpdate,
		Table:   feed.TableMessages,
		RoomID:  1,
		Message: &flipped,
	})

	require.NotNil(t, updated)
	assert.Equal(t, domain.StateRead, updated.ReadState)
	assert.Equal(t, domain.StateRead, s.View(1)[0].ReadState)
}

func TestRemoveDropsFromViewAndRecomputesLast(t *testing.T) {
	s := New(Config{})
	s.Join(1)

	base := time.Now()
	s.OnDeliver(insertEvent(feed.SourceFanout, msg(1, 1, base)))
	s.OnDeliver(insertEvent(feed.SourceFanout, msg(2, 1, base.Add(time.Second))))

	var removed []int64
	s.OnMessageRemoved(func(_, id int64) { removed = append(removed, id) })

	del := feed.Event{
		Source:    feed.SourceChangeFeed,
		Op:        feed.OpInsert,
		Table:     feed.TableDeletions,
		RoomID:    1,
		MessageID: 2,
	}
	s.OnDeliver(del)
	// Deletions also ride the fan-out channel; the replay is a no-op.
	s.OnDeliver(del)

	assert.Equal(t, []int64{2}, removed)
	require.Len(t, s.View(1), 1)

	last, ok := s.LastMessage(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), last.ID)
}

func TestMergePageIsSilentAndDedups(t *testing.T) {
	s := New(Config{})

	var arrived int
	s.OnMessageArrived(func(int64, *domain.Message) { arrived++ })

	base := time.Now()
	page := []*domain.Message{
		msg(20, 7, base.Add(2 * time.Second)),
		msg(19, 7, base.Add(time.Second)),
		msg(18, 7, base),
	}
	s.MergePage(7, page)

	assert.Zero(t, arrived, "paged-in history must not fire arrival callbacks")

	// A live delivery racing the page load for the same row stays silent.
	s.OnDeliver(insertEvent(feed.SourceFanout, msg(20, 7, base.Add(2*time.Second))))
	assert.Zero(t, arrived)

	view := s.View(7)
	require.Len(t, view, 3)
	assert.Equal(t, int64(18), view[0].ID)
	assert.Equal(t, int64(20), view[2].ID)
}

func TestApplyReadAllSkipsOwnMessages(t *testing.T) {
	s := New(Config{})
	s.Join(1)

	base := time.Now()
	mine := msg(1, 1, base)
	mine.AuthorID = 50
	theirs := msg(2, 1, base.Add(time.Second))
	theirs.AuthorID = 60
	s.MergePage(1, []*domain.Message{mine, theirs})

	var flipped []int64
	s.OnMessageUpdated(func(_ int64, m *domain.Message) { flipped = append(flipped, m.ID) })

	// Reader 60 acknowledges: only messages authored by others flip.
	s.ApplyReadAll(1, 60)

	assert.Equal(t, []int64{1}, flipped)
	assert.Equal(t, domain.StateRead, mine.ReadState)
	assert.Equal(t, domain.StateSent, theirs.ReadState)
}

func TestUnjoinedRoomTracksLastMessageOnly(t *testing.T) {
	s := New(Config{})

	var arrived int
	s.OnMessageArrived(func(int64, *domain.Message) { arrived++ })

	s.OnDeliver(insertEvent(feed.SourceFanout, msg(5, 3, time.Now())))

	assert.Equal(t, 1, arrived, "badge updates still need the arrival signal")
	assert.Empty(t, s.View(3), "no view is kept for rooms never joined")

	last, ok := s.LastMessage(3)
	require.True(t, ok)
	assert.Equal(t, int64(5), last.ID)
}

func TestLeaveForgetsRoomState(t *testing.T) {
	s := New(Config{})
	s.Join(1)
	s.OnDeliver(insertEvent(feed.SourceFanout, msg(1, 1, time.Now())))
	s.Leave(1)

	assert.Empty(t, s.View(1))
	_, ok := s.LastMessage(1)
	assert.False(t, ok)
}

func TestSeedLastMessageNeverRegresses(t *testing.T) {
	s := New(Config{})

	base := time.Now()
	live := msg(10, 1, base.Add(time.Minute))
	s.OnDeliver(insertEvent(feed.SourceFanout, live))

	s.SeedLastMessage(1, msg(4, 1, base))

	last, ok := s.LastMessage(1)
	require.True(t, ok)
	assert.Equal(t, int64(10), last.ID)
}

func TestLateDuplicateAfterWindowEvictionIsSilent(t *testing.T) {
	// Window of one: delivering a second id evicts the first, so a late
	// replay of the first arrives with no window memory of it. The view
	// still holds the message, which must keep the replay silent.
	s := New(Config{WindowSize: 1})
	s.Join(7)

	var arrived []int64
	s.OnMessageArrived(func(_ int64, m *domain.Message) {
		arrived = append(arrived, m.ID)
	})
	var dropped int
	s.OnDuplicateDropped(func() { dropped++ })

	now := time.Now()
	s.OnDeliver(insertEvent(feed.SourceFanout, msg(1, 7, now)))
	s.OnDeliver(insertEvent(feed.SourceFanout, msg(2, 7, now.Add(time.Second))))
	s.OnDeliver(insertEvent(feed.SourceChangeFeed, msg(1, 7, now)))

	assert.Equal(t, []int64{1, 2}, arrived)
	assert.Equal(t, 1, dropped)
	require.Len(t, s.View(7), 2)
}
