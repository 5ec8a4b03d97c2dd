// Package notify fans chat events out to live connections: room messages
// to the room's broadcast group, invitation events to each invitee's
// personal group. Nothing here is broadcast unless the underlying
// transaction already committed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/chat/session"
	"github.com/emberlink/chatd/config"
	"github.com/emberlink/chatd/model"
	"go.uber.org/zap"
)

// Server-to-client event types.
const (
	EventReceiveMessage = "receive_message"
	EventChatInvited    = "chatroom:invited"
	EventChatSystem     = "chatroom:system"
	EventDMInvited      = "dm:invited"
	EventDMSystem       = "dm:system"
)

// UserChannel is the pub/sub channel carrying a user's out-of-band
// events (consumed by the SSE stream and any sibling process).
func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// OnlineUsersKey is the cache set mirroring which user ids currently hold
// a live connection. The presence sweep writes it; search reads it.
const OnlineUsersKey = "presence:online"

func historyKey(roomID int64) string {
	return fmt.Sprintf("room:history:%d", roomID)
}

// Dispatcher pushes committed chat events to the right live connections.
type Dispatcher struct {
	sm     *session.Manager
	pubsub cache.PubSub
	cache  cache.Cache
	cfg    config.ChatConfig
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sm *session.Manager, ps cache.PubSub, c cache.Cache, cfg config.ChatConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sm: sm, pubsub: ps, cache: c, cfg: cfg, logger: logger}
}

type invitedPayload struct {
	RoomID  int64  `json:"room_id"`
	Inviter string `json:"inviter"`
	IsGroup bool   `json:"is_group"`
}

func encodePacket(typ string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&session.Packet{Type: typ, Payload: body})
}

// BroadcastMessage delivers a committed room message to every connection
// enrolled in the room's group except the sender (the sender already has
// the message from the command's reply), and records it in the room's
// recent-history cache.
func (d *Dispatcher) BroadcastMessage(ctx context.Context, msg *model.Message, exclude *session.Session) {
	data, err := encodePacket(EventReceiveMessage, msg)
	if err != nil {
		d.logger.Error("failed to encode message event", zap.Error(err))
		return
	}
	d.sm.BroadcastRoom(msg.RoomID, data, exclude)

	limit := d.cfg.RoomHistoryCap
	if limit <= 0 {
		limit = 200
	}
	key := historyKey(msg.RoomID)
	_ = d.cache.LPush(ctx, key, string(data))
	_ = d.cache.LTrim(ctx, key, 0, limit-1)
}

// SendHistory pushes the room's recent cached messages to a session that
// just joined, oldest first.
func (d *Dispatcher) SendHistory(ctx context.Context, s *session.Session, roomID int64) {
	count := d.cfg.HistoryOnJoin
	if count <= 0 {
		return
	}
	msgs, err := d.cache.LRange(ctx, historyKey(roomID), 0, count-1)
	if err != nil {
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		s.SendRaw([]byte(msgs[i]))
	}
}

// NotifyInvitation announces newly added room members: each invitee's
// personal group gets an invited event (visible on any device), and the
// room group gets the system message.
func (d *Dispatcher) NotifyInvitation(ctx context.Context, roomID int64, inviter *model.User, newMembers []model.ChatRoomMember, sysMsg *model.Message) {
	invited, err := encodePacket(EventChatInvited, invitedPayload{
		RoomID: roomID, Inviter: inviter.Username, IsGroup: true,
	})
	if err != nil {
		d.logger.Error("failed to encode invitation event", zap.Error(err))
		return
	}
	for _, m := range newMembers {
		d.sm.SendToUser(m.UserID, invited)
		if pubErr := d.pubsub.Publish(ctx, UserChannel(m.UserID), string(invited)); pubErr != nil {
			d.logger.Warn("invitation publish failed",
				zap.Int64("user_id", m.UserID),
				zap.Error(pubErr))
		}
	}

	if sysMsg != nil {
		if data, err := encodePacket(EventChatSystem, sysMsg); err == nil {
			d.sm.BroadcastRoom(roomID, data, nil)
		}
	}
	d.logger.Info("invitation dispatched",
		zap.Int64("room_id", roomID),
		zap.Int("invitees", len(newMembers)))
}

// NotifyDirectMessage announces a freshly created DM to the counterpart's
// personal group and posts the system message to the room group. Callers
// skip this entirely when DM creation was idempotent (no system message).
func (d *Dispatcher) NotifyDirectMessage(ctx context.Context, roomID int64, inviter, friend *model.User, sysMsg *model.Message) {
	invited, err := encodePacket(EventDMInvited, invitedPayload{
		RoomID: roomID, Inviter: inviter.Username, IsGroup: false,
	})
	if err != nil {
		d.logger.Error("failed to encode dm event", zap.Error(err))
		return
	}
	d.sm.SendToUser(friend.ID, invited)
	if pubErr := d.pubsub.Publish(ctx, UserChannel(friend.ID), string(invited)); pubErr != nil {
		d.logger.Warn("dm invitation publish failed",
			zap.Int64("user_id", friend.ID),
			zap.Error(pubErr))
	}

	if sysMsg != nil {
		if data, err := encodePacket(EventDMSystem, sysMsg); err == nil {
			d.sm.BroadcastRoom(roomID, data, nil)
		}
	}
}
