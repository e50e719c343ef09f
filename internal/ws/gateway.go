// Package ws is the server side of the fan-out channel: a websocket
// endpoint that authenticates clients, pumps their envelopes into the
// Gateway, and delivers hub broadcasts back out.
package ws

import (
	"context"
	"fmt"
	"log"

	"chatsync/internal/domain"
	"chatsync/internal/fanout"
	"chatsync/internal/metrics"
	"chatsync/internal/presence"
	"chatsync/internal/service"
)

// Gateway processes inbound client envelopes for both websocket
// connections and in-process streams. Message broadcasts target member
// user topics, so every connected member hears about new messages even
// for rooms they have not joined.
type Gateway struct {
	hub     *fanout.Hub
	msgs    *service.MessageService
	rooms   *service.RoomService
	tracker *presence.Tracker
}

func NewGateway(hub *fanout.Hub, msgs *service.MessageService, rooms *service.RoomService, tracker *presence.Tracker) *Gateway {
	g := &Gateway{
		hub:     hub,
		msgs:    msgs,
		rooms:   rooms,
		tracker: tracker,
	}
	tracker.OnChange(func(rec presence.Record) {
		if rec.Online {
			metrics.OnlineUsers.Inc()
		} else {
			metrics.OnlineUsers.Dec()
		}
		hub.Publish(fanout.TopicPresence, fanout.Envelope{
			Type:     fanout.TypePresence,
			UserID:   rec.UserID,
			Online:   rec.Online,
			LastSeen: rec.LastSeen,
		})
	})
	return g
}

var _ fanout.Inbound = (*Gateway)(nil)

func (g *Gateway) HandleInbound(ctx context.Context, userID int64, sessionID string, env fanout.Envelope) error {
	switch env.Type {
	case fanout.TypeSend:
		msg, err := g.msgs.Send(ctx, service.MessageCreateInput{
			RoomID:        env.RoomID,
			Content:       env.Content,
			AttachmentRef: env.AttachmentRef,
			Kind:          env.Kind,
		}, userID)
		if err != nil {
			return err
		}
		return g.BroadcastMessage(ctx, msg)

	case fanout.TypeMarkRead:
		n, err := g.msgs.MarkRead(ctx, env.RoomID, userID)
		if err != nil {
			return err
		}
		if n > 0 {
			g.broadcastToMembers(ctx, env.RoomID, fanout.Envelope{
				Type:   fanout.TypeMessagesRead,
				RoomID: env.RoomID,
				UserID: userID,
			})
		}
		return nil

	case fanout.TypeJoinRoom, fanout.TypeLeaveRoom:
		// Topic membership is handled by the connection adapter; the
		// gateway only vets access.
		ok, err := g.rooms.IsMember(ctx, env.RoomID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: not a member of this room", domain.ErrForbidden)
		}
		return nil

	case fanout.TypeTyping:
		ok, err := g.rooms.IsMember(ctx, env.RoomID, userID)
		if err != nil || !ok {
			return err
		}
		g.hub.Publish(fanout.RoomTopic(env.RoomID), fanout.Envelope{
			Type:   fanout.TypeTyping,
			RoomID: env.RoomID,
			UserID: userID,
		})
		return nil

	case fanout.TypeTrack:
		g.tracker.Track(userID, sessionID)
		return nil
	case fanout.TypeUntrack:
		g.tracker.Untrack(userID, sessionID)
		return nil
	case fanout.TypeHeartbeat:
		g.tracker.Heartbeat(userID, sessionID)
		return nil

	default:
		return fmt.Errorf("%w: unknown envelope type %q", domain.ErrInvalidInput, env.Type)
	}
}

// BroadcastMessage fans a freshly stored message out to every room
// member's streams.
func (g *Gateway) BroadcastMessage(ctx context.Context, msg *domain.Message) error {
	metrics.MessagesSent.Inc()
	g.broadcastToMembers(ctx, msg.RoomID, fanout.Envelope{
		Type:    fanout.TypeMessage,
		RoomID:  msg.RoomID,
		Message: msg,
	})
	return nil
}

// NotifyDeleted tells the deleting user's other streams that a message
// is gone for them.
func (g *Gateway) NotifyDeleted(roomID, messageID, userID int64) {
	g.hub.Publish(fanout.UserTopic(userID), fanout.Envelope{
		Type:      fanout.TypeMessageDeleted,
		RoomID:    roomID,
		MessageID: messageID,
		UserID:    userID,
	})
}

// NotifyRead mirrors a REST mark-read onto the fan-out channel.
func (g *Gateway) NotifyRead(ctx context.Context, roomID, userID int64) {
	g.broadcastToMembers(ctx, roomID, fanout.Envelope{
		Type:   fanout.TypeMessagesRead,
		RoomID: roomID,
		UserID: userID,
	})
}

func (g *Gateway) broadcastToMembers(ctx context.Context, roomID int64, env fanout.Envelope) {
	memberIDs, err := g.rooms.MemberIDs(ctx, roomID)
	if err != nil {
		log.Printf("ws: member ids for room %d: %v", roomID, err)
		return
	}
	for _, uid := range memberIDs {
		g.hub.Publish(fanout.UserTopic(uid), env)
		metrics.FanoutDelivered.Inc()
	}
}
