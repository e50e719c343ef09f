package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/fanout"
)

// Phase is the announcer's transport state. Presence may only be
// announced while Subscribed.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Subscribed
)

// Announcer drives one client session's presence: it announces online on
// visibility, offline on blur, and re-announces on a heartbeat interval
// while visible so the lease survives transport-level expiry.
type Announcer struct {
	pub      fanout.Stream
	interval time.Duration

	mu      sync.Mutex
	phase   Phase
	visible bool
}

func NewAnnouncer(pub fanout.Stream, interval time.Duration) *Announcer {
	if interval == 0 {
		interval = 10 * time.Second
	}
	return &Announcer{pub: pub, interval: interval, visible: true}
}

// SetPhase applies a transport state transition. Entering Subscribed
// announces immediately if the session is visible.
func (a *Announcer) SetPhase(ctx context.Context, p Phase) {
	a.mu.Lock()
	a.phase = p
	announce := p == Subscribed && a.visible
	a.mu.Unlock()
	if announce {
		a.track(ctx)
	}
}

// SetVisible applies a visibility/focus change. Visible announces
// online; hidden announces offline.
func (a *Announcer) SetVisible(ctx context.Context, visible bool) {
	a.mu.Lock()
	a.visible = visible
	subscribed := a.phase == Subscribed
	a.mu.Unlock()
	if !subscribed {
		return
	}
	if visible {
		a.track(ctx)
	} else {
		a.untrack(ctx)
	}
}

// Run emits heartbeats until ctx is cancelled. Heartbeats fire only
// while subscribed and visible.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			beat := a.phase == Subscribed && a.visible
			a.mu.Unlock()
			if beat {
				if err := a.pub.Publish(ctx, fanout.Envelope{Type: fanout.TypeHeartbeat}); err != nil {
					slog.Warn("presence: heartbeat failed", "err", err)
				}
			}
		}
	}
}

// Close untracks best-effort. If the channel is already torn down the
// lapsed-heartbeat path on the tracker is the correctness fallback.
func (a *Announcer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a.untrack(ctx)
	a.mu.Lock()
	a.phase = Disconnected
	a.mu.Unlock()
}

func (a *Announcer) track(ctx context.Context) {
	if err := a.pub.Publish(ctx, fanout.Envelope{Type: fanout.TypeTrack, LastSeen: time.Now()}); err != nil {
		slog.Warn("presence: track failed", "err", err)
	}
}

func (a *Announcer) untrack(ctx context.Context) {
	if err := a.pub.Publish(ctx, fanout.Envelope{Type: fanout.TypeUntrack}); err != nil {
		slog.Warn("presence: untrack failed", "err", err)
	}
}
