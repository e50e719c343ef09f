package feed

import (
	"context"
	"sync"
)

const subscriptionBuffer = 256

// Broker is an in-process Feed used with the sqlite store and in tests.
// The store publishes a row event after every committed write; the broker
// fans it out to matching subscriptions. A slow subscriber drops events
// rather than blocking the publisher; correctness relies on the dual
// channel, not on lossless delivery here.
type Broker struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*memorySub]struct{})}
}

var _ Feed = (*Broker)(nil)

func (b *Broker) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	sub := &memorySub{
		broker: b,
		filter: f,
		ch:     make(chan Event, subscriptionBuffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}
	return sub, nil
}

// Publish delivers ev to every matching subscription.
func (b *Broker) Publish(ev Event) {
	ev.Source = SourceChangeFeed
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

type memorySub struct {
	broker *Broker
	filter Filter
	ch     chan Event
	once   sync.Once
}

func (s *memorySub) Events() <-chan Event { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.ch)
	})
	return nil
}
