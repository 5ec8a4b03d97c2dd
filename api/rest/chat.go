package rest

import (
	"net/http"
	"strconv"

	"github.com/emberlink/chatd/audit"
	"github.com/emberlink/chatd/chat/notify"
	"github.com/emberlink/chatd/friendship"
	"github.com/emberlink/chatd/room"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ChatHandler handles chat room REST endpoints.
type ChatHandler struct {
	db         *gorm.DB
	rooms      *room.Service
	friends    *friendship.Service
	dispatcher *notify.Dispatcher
	audit      *audit.Service
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(db *gorm.DB, rooms *room.Service, friends *friendship.Service, d *notify.Dispatcher, auditSvc *audit.Service) *ChatHandler {
	return &ChatHandler{db: db, rooms: rooms, friends: friends, dispatcher: d, audit: auditSvc}
}

type createGroupBody struct {
	RoomName  string  `json:"room_name" binding:"required,min=1,max=64"`
	MemberIDs []int64 `json:"member_ids" binding:"required,min=1"`
}

// CreateGroup handles POST /api/chats/group.
func (h *ChatHandler) CreateGroup(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	var body createGroupBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.rooms.CreateGroup(user, body.RoomName, body.MemberIDs)
	recordAction(h.audit, c, user.ID, "chat.create_group", body, r, err)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// ListGroups handles GET /api/chats/group.
func (h *ChatHandler) ListGroups(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	rooms, err := h.rooms.ListGroupsForUser(user)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// ListMembers handles GET /api/chats/group/:roomId/members.
func (h *ChatHandler) ListMembers(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	isMember, err := h.rooms.IsMember(user.ID, roomID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !isMember {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
		return
	}
	members, err := h.rooms.ListMembers(roomID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

// ListDMs handles GET /api/chats/dms.
func (h *ChatHandler) ListDMs(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	rooms, err := h.rooms.ListDMsForUser(user)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// CreateOrGetDM handles POST /api/chats/dms/:friendId. Creating a fresh DM
// notifies the friend; fetching an existing one does not.
func (h *ChatHandler) CreateOrGetDM(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	friendID, err := strconv.ParseInt(c.Param("friendId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid friend id"})
		return
	}
	r, friend, sysMsg, err := h.rooms.CreateOrGetDM(user, friendID)
	recordAction(h.audit, c, user.ID, "chat.create_dm", gin.H{"friend_id": friendID}, r, err)
	if err != nil {
		respondErr(c, err)
		return
	}
	if sysMsg != nil {
		h.dispatcher.NotifyDirectMessage(c.Request.Context(), r.ID, user, friend, sysMsg)
	}
	c.JSON(http.StatusOK, r)
}

// InviteCandidates handles GET /api/chats/invite/:roomId/members: the
// caller's friends annotated with whether each is already in the room.
func (h *ChatHandler) InviteCandidates(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	friends, err := h.friends.ListFriends(user)
	if err != nil {
		respondErr(c, err)
		return
	}
	candidates, err := h.rooms.InviteCandidates(user, roomID, friends)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, candidates)
}

type inviteBody struct {
	MemberIDs []int64 `json:"member_ids" binding:"required,min=1"`
}

// InviteMembers handles POST /api/chats/invite/:roomId/members.
func (h *ChatHandler) InviteMembers(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	var body inviteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added, sysMsg, err := h.rooms.AddMembers(roomID, user, body.MemberIDs)
	recordAction(h.audit, c, user.ID, "chat.invite", body, added, err)
	if err != nil {
		respondErr(c, err)
		return
	}
	if len(added) > 0 {
		h.dispatcher.NotifyInvitation(c.Request.Context(), roomID, user, added, sysMsg)
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// ListMessages handles GET /api/chats/:roomId/messages.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	msgs, err := h.rooms.ListMessages(roomID, user)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}
