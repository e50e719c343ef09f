package fanout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer accepts fan-out connections, records inbound frames and
// can drop live connections to exercise the reconnect path.
type wsTestServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	frames   []Envelope
	protocol string
}

func newWSTestServer(t *testing.T) *wsTestServer {
	s := &wsTestServer{}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:  func(*http.Request) bool { return true },
		Subprotocols: []string{"bearer"},
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.protocol = r.Header.Get("Sec-WebSocket-Protocol")
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, env)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsTestServer) connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *wsTestServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *wsTestServer) joinFrames(roomID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.Type == TypeJoinRoom && f.RoomID == roomID {
			n++
		}
	}
	return n
}

// stateRecorder drains a stream's events and keeps the conn_state
// transitions in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []string
}

func recordStates(s *WSStream) *stateRecorder {
	r := &stateRecorder{}
	go func() {
		for env := range s.Events() {
			if env.Type != TypeConnState {
				continue
			}
			r.mu.Lock()
			r.states = append(r.states, env.State)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *stateRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func (r *stateRecorder) count(state string) int {
	n := 0
	for _, s := range r.seen() {
		if s == state {
			n++
		}
	}
	return n
}

func testDialConfig(url string) DialConfig {
	return DialConfig{
		URL:          url,
		Token:        "tok",
		MaxRetries:   2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
	}
}

func TestDialConnectsAndJoins(t *testing.T) {
	srv := newWSTestServer(t)
	s := Dial(context.Background(), testDialConfig(srv.url()))
	defer s.Close()
	states := recordStates(s)

	assert.Eventually(t, func() bool {
		return states.count(StateConnected) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Join(context.Background(), 9))
	assert.Eventually(t, func() bool {
		return srv.joinFrames(9) == 1
	}, time.Second, 5*time.Millisecond)

	// The bearer token travels in the handshake subprotocols.
	srv.mu.Lock()
	protocol := srv.protocol
	srv.mu.Unlock()
	assert.Contains(t, protocol, "tok")
}

func TestReconnectRejoinsRoomTopics(t *testing.T) {
	srv := newWSTestServer(t)
	s := Dial(context.Background(), testDialConfig(srv.url()))
	defer s.Close()
	states := recordStates(s)

	require.NoError(t, s.Join(context.Background(), 4))
	assert.Eventually(t, func() bool {
		return srv.joinFrames(4) == 1
	}, time.Second, 5*time.Millisecond)

	srv.dropAll()

	assert.Eventually(t, func() bool {
		return states.count(StateReconnecting) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return srv.connects() == 2 && srv.joinFrames(4) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return states.count(StateConnected) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBoundedRetriesSurfaceFailure(t *testing.T) {
	srv := newWSTestServer(t)
	url := srv.url()
	srv.srv.Close()

	s := Dial(context.Background(), testDialConfig(url))
	defer s.Close()

	// Every dial fails; after MaxRetries the stream reports failed and
	// closes its event channel rather than retrying forever.
	var states []string
	for env := range s.Events() {
		if env.Type == TypeConnState {
			states = append(states, env.State)
		}
	}
	assert.Equal(t, []string{StateFailed}, states)
}

func TestSendOnClosedStreamFails(t *testing.T) {
	srv := newWSTestServer(t)
	s := Dial(context.Background(), testDialConfig(srv.url()))
	require.NoError(t, s.Close())

	assert.Error(t, s.Publish(context.Background(), Envelope{Type: TypeHeartbeat}))
}
