package rest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/emberlink/chatd/audit"
	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/chat/notify"
	"github.com/emberlink/chatd/friendship"
	"github.com/emberlink/chatd/model"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UserHandler handles user profile and friendship REST endpoints.
type UserHandler struct {
	db      *gorm.DB
	friends *friendship.Service
	cache   cache.Cache
	audit   *audit.Service
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB, friends *friendship.Service, c cache.Cache, auditSvc *audit.Service) *UserHandler {
	return &UserHandler{db: db, friends: friends, cache: c, audit: auditSvc}
}

// Me handles GET /api/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

type searchResult struct {
	friendship.UserWithStatus
	Online bool `json:"online"`
}

// Search handles GET /api/users/search?q=...; results are annotated with
// the friendship status relative to the caller and with presence from the
// online-users set.
func (h *UserHandler) Search(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusOK, []searchResult{})
		return
	}
	results, err := h.friends.SearchWithStatus(user, query)
	if err != nil {
		respondErr(c, err)
		return
	}
	out := make([]searchResult, 0, len(results))
	for _, r := range results {
		online, err := h.cache.SIsMember(c.Request.Context(), notify.OnlineUsersKey, strconv.FormatInt(r.ID, 10))
		if err != nil {
			// Presence is best-effort; a cache hiccup must not fail search.
			online = false
		}
		out = append(out, searchResult{UserWithStatus: r, Online: online})
	}
	c.JSON(http.StatusOK, out)
}

type friendRequestBody struct {
	TargetID int64 `json:"target_id" binding:"required"`
}

// RequestFriend handles POST /api/users/friends.
func (h *UserHandler) RequestFriend(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	var body friendRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := h.friends.Request(user, body.TargetID)
	recordAction(h.audit, c, user.ID, "friend.request", body, f, err)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

type friendStatusBody struct {
	Status model.FriendshipStatus `json:"status" binding:"required"`
}

// UpdateFriendRequest handles PATCH /api/users/friends/requests/:id.
func (h *UserHandler) UpdateFriendRequest(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	var body friendStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := h.friends.UpdateStatus(user, requestID, body.Status)
	recordAction(h.audit, c, user.ID, "friend.update_status", body, f, err)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// CancelFriendRequest handles DELETE /api/users/friends/requests/:id.
func (h *UserHandler) CancelFriendRequest(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	err = h.friends.CancelRequest(user, requestID)
	recordAction(h.audit, c, user.ID, "friend.cancel", gin.H{"request_id": requestID}, nil, err)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "request cancelled"})
}

// RemoveFriend handles DELETE /api/users/friends/:friendId.
func (h *UserHandler) RemoveFriend(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	friendID, err := strconv.ParseInt(c.Param("friendId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid friend id"})
		return
	}
	err = h.friends.RemoveFriend(user, friendID)
	recordAction(h.audit, c, user.ID, "friend.remove", gin.H{"friend_id": friendID}, nil, err)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "friend removed"})
}

// ListFriends handles GET /api/users/friends.
func (h *UserHandler) ListFriends(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	friends, err := h.friends.ListFriends(user)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, friends)
}

// ListIncoming handles GET /api/users/friends/requests/incoming.
func (h *UserHandler) ListIncoming(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	reqs, err := h.friends.ListIncoming(user)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// ListOutgoing handles GET /api/users/friends/requests/outgoing.
func (h *UserHandler) ListOutgoing(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	reqs, err := h.friends.ListOutgoing(user)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}
