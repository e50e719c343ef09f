package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DialConfig configures a websocket-backed stream.
type DialConfig struct {
	URL   string
	Token string
	// MaxRetries bounds reconnect attempts per outage; once exceeded the
	// stream emits a failed conn_state frame and stops. Zero means the
	// default of 5.
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (c *DialConfig) withDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
}

// WSStream is a Stream over a websocket connection to the fan-out
// service. It reconnects with capped exponential backoff and re-joins
// its room topics after each reconnect; when the bounded retry count is
// exhausted it surfaces a failed conn_state frame instead of retrying
// silently forever.
type WSStream struct {
	cfg       DialConfig
	sessionID string

	mu     sync.Mutex
	joined map[int64]struct{}
	closed bool
	conn   *websocket.Conn

	events chan Envelope
	out    chan Envelope
	done   chan struct{}
	once   sync.Once
}

func Dial(ctx context.Context, cfg DialConfig) *WSStream {
	cfg.withDefaults()
	s := &WSStream{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		joined:    make(map[int64]struct{}),
		events:    make(chan Envelope, streamBuffer),
		out:       make(chan Envelope, 64),
		done:      make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

var _ Stream = (*WSStream)(nil)

func (s *WSStream) SessionID() string { return s.sessionID }

func (s *WSStream) run(ctx context.Context) {
	defer close(s.events)

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() == nil && !s.isClosed() {
				s.emit(Envelope{Type: TypeConnState, State: StateFailed, Error: err.Error()})
			}
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.emit(Envelope{Type: TypeConnState, State: StateConnected})
		s.rejoin(ctx)

		err = s.pump(ctx, conn)
		conn.Close()
		if ctx.Err() != nil || s.isClosed() {
			return
		}
		slog.Warn("fanout: connection lost", "err", err)
		s.emit(Envelope{Type: TypeConnState, State: StateReconnecting})
	}
}

// connect dials with capped exponential backoff and a bounded attempt
// count.
func (s *WSStream) connect(ctx context.Context) (*websocket.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialDelay
	bo.MaxInterval = s.cfg.MaxDelay
	bo.MaxElapsedTime = 0

	var conn *websocket.Conn
	op := func() error {
		if s.isClosed() {
			return backoff.Permanent(errors.New("stream closed"))
		}
		dialer := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{"bearer", s.cfg.Token},
		}
		c, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// pump runs one connection: a writer goroutine drains s.out while the
// caller reads frames until the connection drops.
func (s *WSStream) pump(ctx context.Context, conn *websocket.Conn) error {
	writerDone := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case env := <-s.out:
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		close(stop)
		<-writerDone
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		s.emit(env)
	}
}

// rejoin replays join frames for every room topic after a reconnect.
func (s *WSStream) rejoin(ctx context.Context) {
	s.mu.Lock()
	rooms := make([]int64, 0, len(s.joined))
	for id := range s.joined {
		rooms = append(rooms, id)
	}
	s.mu.Unlock()
	for _, id := range rooms {
		_ = s.send(Envelope{Type: TypeJoinRoom, RoomID: id})
	}
}

func (s *WSStream) Join(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	s.joined[roomID] = struct{}{}
	s.mu.Unlock()
	return s.send(Envelope{Type: TypeJoinRoom, RoomID: roomID})
}

func (s *WSStream) Leave(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	delete(s.joined, roomID)
	s.mu.Unlock()
	return s.send(Envelope{Type: TypeLeaveRoom, RoomID: roomID})
}

func (s *WSStream) Publish(ctx context.Context, env Envelope) error {
	return s.send(env)
}

func (s *WSStream) send(env Envelope) error {
	if s.isClosed() {
		return errors.New("fanout: stream closed")
	}
	select {
	case s.out <- env:
		return nil
	default:
		return errors.New("fanout: send buffer full")
	}
}

func (s *WSStream) Events() <-chan Envelope { return s.events }

func (s *WSStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		close(s.done)
	})
	return nil
}

func (s *WSStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *WSStream) emit(env Envelope) {
	select {
	case s.events <- env:
	default:
	}
}
