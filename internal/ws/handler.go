package ws

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatsync/internal/domain"
	"chatsync/internal/fanout"
	"chatsync/internal/security"
)

const connBuffer = 256

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// conn adapts one websocket connection to a hub subscriber. Deliver
// never blocks; a slow reader loses frames and recovers through the
// change feed.
type conn struct {
	ws  *websocket.Conn
	out chan fanout.Envelope

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, out: make(chan fanout.Envelope, connBuffer)}
}

var _ fanout.Subscriber = (*conn)(nil)

func (c *conn) Deliver(env fanout.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- env:
	default:
	}
}

func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.out)
	c.ws.Close()
}

func (c *conn) writePump() {
	for env := range c.out {
		if err := c.ws.WriteJSON(env); err != nil {
			return
		}
	}
}

// MakeHandler returns the HTTP handler for the /ws endpoint.
// Authenticates via bearer token (Authorization header or
// Sec-WebSocket-Protocol), then pumps client envelopes into the gateway:
//   - send       -> store message & fan out to member streams
//   - mark_read  -> flip read receipts & broadcast messages_read
//   - join_room / leave_room -> room topic subscription
//   - track / untrack / heartbeat -> presence leases
func MakeHandler(
	hub *fanout.Hub,
	gateway *Gateway,
	tokens *security.Tokens,
	users domain.UserRepository,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByID(ctx, claims.UserID)
		if err != nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c := newConn(wsConn)
		sessionID := uuid.NewString()
		hub.Subscribe(fanout.TopicGlobal, c)
		hub.Subscribe(fanout.TopicPresence, c)
		hub.Subscribe(fanout.UserTopic(user.ID), c)
		go c.writePump()

		defer func() {
			hub.Drop(c)
			c.close()
			// A vanished connection must not hold its presence lease.
			gateway.tracker.Untrack(user.ID, sessionID)
		}()

		for {
			var env fanout.Envelope
			if err := wsConn.ReadJSON(&env); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("ws: read from user %d: %v", user.ID, err)
				}
				return
			}

			switch env.Type {
			case fanout.TypeJoinRoom:
				if err := gateway.HandleInbound(ctx, user.ID, sessionID, env); err != nil {
					sendError(c, err.Error())
					continue
				}
				hub.Subscribe(fanout.RoomTopic(env.RoomID), c)
			case fanout.TypeLeaveRoom:
				hub.Unsubscribe(fanout.RoomTopic(env.RoomID), c)
			default:
				if err := gateway.HandleInbound(ctx, user.ID, sessionID, env); err != nil {
					log.Printf("ws: %s from user %d: %v", env.Type, user.ID, err)
					sendError(c, err.Error())
				}
			}
		}
	}
}

func sendError(c *conn, msg string) {
	c.Deliver(fanout.Envelope{
		Type:  fanout.TypeError,
		Error: msg,
	})
}
