package rest

import (
	"github.com/emberlink/chatd/apperr"
	"github.com/emberlink/chatd/audit"
	mw "github.com/emberlink/chatd/middleware"
	"github.com/emberlink/chatd/model"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// respondErr maps a service error onto an HTTP status with a client-safe
// message.
func respondErr(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
}

// currentUser resolves the authenticated identity set by the auth
// middleware into a full user row.
func currentUser(c *gin.Context, db *gorm.DB) (*model.User, bool) {
	userID := mw.GetUserID(c)
	if userID == 0 {
		respondErr(c, apperr.New(apperr.Unauthenticated, "not authenticated"))
		return nil, false
	}
	var user model.User
	if err := db.First(&user, userID).Error; err != nil {
		respondErr(c, apperr.New(apperr.Unauthenticated, "user no longer exists"))
		return nil, false
	}
	return &user, true
}

// recordAction queues an audit entry for a mutating endpoint, outcome
// included.
func recordAction(svc *audit.Service, c *gin.Context, userID int64, action string, request, response interface{}, err error) {
	entry := audit.Entry{
		TraceID:  mw.GetTraceID(c),
		UserID:   &userID,
		Action:   action,
		Request:  request,
		Response: response,
		IP:       c.ClientIP(),
	}
	if err != nil {
		entry.Error = apperr.Message(err)
	}
	svc.Log(entry)
}
