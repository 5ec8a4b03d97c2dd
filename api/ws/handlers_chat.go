package ws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/emberlink/chatd/apperr"
	"github.com/emberlink/chatd/chat/notify"
	"github.com/emberlink/chatd/chat/session"
	"github.com/emberlink/chatd/config"
	"github.com/emberlink/chatd/model"
	"github.com/emberlink/chatd/room"
	"go.uber.org/zap"
)

// ChatHandlers implements the connection-scoped chat commands.
type ChatHandlers struct {
	rooms      *room.Service
	sm         *session.Manager
	dispatcher *notify.Dispatcher
	cfg        config.ChatConfig
	logger     *zap.Logger
}

// NewChatHandlers creates the chat WS handlers.
func NewChatHandlers(rooms *room.Service, sm *session.Manager, d *notify.Dispatcher, cfg config.ChatConfig, logger *zap.Logger) *ChatHandlers {
	return &ChatHandlers{rooms: rooms, sm: sm, dispatcher: d, cfg: cfg, logger: logger}
}

// RegisterHandlers registers all chat message types on the router.
func (h *ChatHandlers) RegisterHandlers(r *Router) {
	r.On("join_room", h.HandleJoinRoom)
	r.On("leave_room", h.HandleLeaveRoom)
	r.On("send_message", h.HandleSendMessage)
	r.On("ping", h.HandlePing)
}

type joinRoomReq struct {
	RoomID int64 `json:"room_id"`
}

// HandleJoinRoom enrolls the connection into a room's broadcast group
// after re-checking membership. On rejection the connection stays alive
// but is not enrolled.
func (h *ChatHandlers) HandleJoinRoom(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	var req joinRoomReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return apperr.New(apperr.InvalidArgument, "malformed join_room payload")
	}

	ok, err := h.rooms.IsMember(s.UserID, req.RoomID)
	if err != nil {
		return err
	}
	if !ok {
		h.logger.Warn("join_room rejected",
			zap.Int64("user_id", s.UserID),
			zap.Int64("room_id", req.RoomID),
			zap.String("trace_id", TraceIDFromCtx(ctx)))
		return apperr.New(apperr.Forbidden, "unauthorized to join this room")
	}

	h.sm.JoinRoom(s, req.RoomID)
	payload, _ := json.Marshal(map[string]interface{}{
		"status":  "success",
		"room_id": req.RoomID,
	})
	s.Send(&session.Packet{Type: "room_joined", Payload: payload})

	h.dispatcher.SendHistory(ctx, s, req.RoomID)
	h.logger.Info("session joined room",
		zap.Int64("user_id", s.UserID),
		zap.Int64("room_id", req.RoomID))
	return nil
}

// HandleLeaveRoom removes the connection from a room's broadcast group.
func (h *ChatHandlers) HandleLeaveRoom(_ context.Context, s *session.Session, raw json.RawMessage) error {
	var req joinRoomReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return apperr.New(apperr.InvalidArgument, "malformed leave_room payload")
	}
	h.sm.LeaveRoom(s, req.RoomID)
	return nil
}

type sendMessageReq struct {
	RoomID  int64  `json:"room_id"`
	Content string `json:"content"`
}

// HandleSendMessage persists a text message and broadcasts it to the
// room's group, excluding the sender, who receives the stored message as
// the command's reply. The connection must have joined the room first;
// the gate rejects before anything is persisted.
func (h *ChatHandlers) HandleSendMessage(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	var req sendMessageReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return apperr.New(apperr.InvalidArgument, "malformed send_message payload")
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return apperr.New(apperr.InvalidArgument, "message content is empty")
	}
	maxLen := h.cfg.MaxMessageLen
	if maxLen <= 0 {
		maxLen = 2000
	}
	if len([]rune(req.Content)) > maxLen {
		return apperr.New(apperr.InvalidArgument, "message too long")
	}

	if !s.InRoom(req.RoomID) {
		return apperr.New(apperr.Forbidden, "join the room before sending messages")
	}

	sender := &model.User{ID: s.UserID, Username: s.Username}
	msg, err := h.rooms.PostMessage(req.RoomID, sender, req.Content)
	if err != nil {
		return err
	}

	h.dispatcher.BroadcastMessage(ctx, msg, s)

	// Reply with the stored message so the sender gets the server-assigned
	// id and timestamp (their local echo).
	payload, _ := json.Marshal(msg)
	s.Send(&session.Packet{Type: notify.EventReceiveMessage, Payload: payload})
	return nil
}

type pingReq struct {
	ClientTS int64 `json:"client_ts"`
}

// HandlePing answers a client heartbeat.
func (h *ChatHandlers) HandlePing(_ context.Context, s *session.Session, raw json.RawMessage) error {
	var req pingReq
	_ = json.Unmarshal(raw, &req)
	s.SendHeartbeatPong(req.ClientTS)
	return nil
}
