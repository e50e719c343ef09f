package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatsync/internal/fanout"
)

// recordStream captures published envelopes and can be told to fail.
type recordStream struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (r *recordStream) Join(ctx context.Context, roomID int64) error  { return nil }
func (r *recordStream) Leave(ctx context.Context, roomID int64) error { return nil }
func (r *recordStream) Events() <-chan fanout.Envelope                { return nil }
func (r *recordStream) Close() error                                  { return nil }

func (r *recordStream) Publish(ctx context.Context, env fanout.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, env.Type)
	return nil
}

func (r *recordStream) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestAnnounceOnSubscribeWhileVisible(t *testing.T) {
	stream := &recordStream{}
	a := NewAnnouncer(stream, time.Hour)

	a.SetPhase(context.Background(), Connecting)
	assert.Empty(t, stream.types())

	a.SetPhase(context.Background(), Subscribed)
	assert.Equal(t, []string{fanout.TypeTrack}, stream.types())
}

func TestHiddenSessionDoesNotAnnounce(t *testing.T) {
	stream := &recordStream{}
	a := NewAnnouncer(stream, time.Hour)
	a.SetVisible(context.Background(), false)

	a.SetPhase(context.Background(), Subscribed)
	assert.Empty(t, stream.types())

	// Regaining focus while subscribed announces online.
	a.SetVisible(context.Background(), true)
	assert.Equal(t, []string{fanout.TypeTrack}, stream.types())
}

func TestBlurAnnouncesOffline(t *testing.T) {
	stream := &recordStream{}
	a := NewAnnouncer(stream, time.Hour)
	a.SetPhase(context.Background(), Subscribed)

	a.SetVisible(context.Background(), false)
	assert.Equal(t, []string{fanout.TypeTrack, fanout.TypeUntrack}, stream.types())
}

func TestVisibilityChangeWhileDisconnectedIsSilent(t *testing.T) {
	stream := &recordStream{}
	a := NewAnnouncer(stream, time.Hour)
	a.SetPhase(context.Background(), Disconnected)

	a.SetVisible(context.Background(), false)
	a.SetVisible(context.Background(), true)
	assert.Empty(t, stream.types())
}

func TestHeartbeatsOnlyWhileSubscribedAndVisible(t *testing.T) {
	stream := &recordStream{}
	a := NewAnnouncer(stream, 5*time.Millisecond)
	a.SetPhase(context.Background(), Subscribed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	assert.Eventually(t, func() bool {
		for _, typ := range stream.types() {
			if typ == fanout.TypeHeartbeat {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Hidden sessions stop beating; the server lease is allowed to lapse.
	a.SetVisible(ctx, false)
	time.Sleep(20 * time.Millisecond)
	before := len(stream.types())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, len(stream.types()))
}

func TestCloseSurvivesDeadTransport(t *testing.T) {
	stream := &recordStream{fail: errors.New("connection reset")}
	a := NewAnnouncer(stream, time.Hour)
	a.SetPhase(context.Background(), Subscribed)

	// The untrack frame is best effort: a dead channel must not panic or
	// block, the tracker's lapse sweep takes the session offline instead.
	a.Close()
	assert.Empty(t, stream.types())
}
