package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"

	"chatsync/internal/metrics"
)

// Channel is the NOTIFY channel the store triggers publish row events on.
const Channel = "chatsync_changes"

// Listener turns PostgreSQL LISTEN/NOTIFY into a Feed. Row events are
// emitted by triggers installed with the migrations; the listener decodes
// the JSON payloads and republishes them through an embedded broker, so
// subscription semantics match the in-process feed exactly.
type Listener struct {
	url    string
	broker *Broker
}

func NewListener(databaseURL string) *Listener {
	return &Listener{url: databaseURL, broker: NewBroker()}
}

var _ Feed = (*Listener)(nil)

func (l *Listener) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	return l.broker.Subscribe(ctx, f)
}

// Run listens until ctx is cancelled, reconnecting with capped
// exponential backoff on connection loss.
func (l *Listener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until cancelled

	return backoff.Retry(func() error {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			slog.Warn("feed: listener disconnected", "err", err)
			return err
		}
		return backoff.Permanent(nil)
	}, backoff.WithContext(bo, ctx))
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			// Malformed payloads are dropped, never fatal.
			slog.Warn("feed: bad notify payload", "err", err)
			continue
		}
		metrics.FeedEvents.Inc()
		l.broker.Publish(ev)
	}
}
