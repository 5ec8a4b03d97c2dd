package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/config"
	"github.com/gin-gonic/gin"
)

const (
	UserIDKey   = "user_id"
	UsernameKey = "username"

	// AccessTokenCookie is the httpOnly cookie the login endpoint sets.
	AccessTokenCookie = "accessToken"
)

// ExtractToken pulls the access token from the Authorization header or,
// failing that, the httpOnly cookie.
func ExtractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if tok, err := c.Cookie(AccessTokenCookie); err == nil {
		return tok
	}
	return ""
}

// Auth validates the access token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := ExtractToken(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Check session still valid in cache.
		sessionKey := "session:" + tokenStr
		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, sessionKey)
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(UserIDKey, claims.UserID)
		ctx.Set(UsernameKey, claims.Username)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetUsername retrieves the authenticated username from the Gin context.
func GetUsername(c *gin.Context) string {
	if v, exists := c.Get(UsernameKey); exists {
		return v.(string)
	}
	return ""
}
