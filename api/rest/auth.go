package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/config"
	mw "github.com/emberlink/chatd/middleware"
	"github.com/emberlink/chatd/model"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db    *gorm.DB
	cache cache.Cache
	sec   config.SecurityConfig
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Email    string `json:"email"    binding:"required,email,max=128"`
	Password string `json:"password" binding:"required,min=8,max=64"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var count int64
	h.db.Model(&model.User{}).Where("username = ?", req.Username).Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		return
	}
	h.db.Model(&model.User{}).Where("email = ?", req.Email).Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	user := model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := h.db.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "username or email already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=8,max=64"`
}

// Login handles POST /api/auth/login. On success the token is returned in
// the body and also set as an httpOnly cookie so browser clients never
// expose it to scripts.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user model.User
	err := h.db.Where("username = ?", req.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := mw.GenerateToken(user.ID, user.Username, h.sec.JWTSecret, h.sec.JWTTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	// Store session in cache as a simple KV entry so Exists() works uniformly.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Set(ctx, "session:"+token, strconv.FormatInt(user.ID, 10), h.sec.JWTTTL)

	c.SetCookie(mw.AccessTokenCookie, token, int(h.sec.JWTTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"user_id": user.ID,
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenStr := mw.ExtractToken(c)
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+tokenStr)
	c.SetCookie(mw.AccessTokenCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh: rotates the access token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	userID := mw.GetUserID(c)
	username := mw.GetUsername(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	oldToken := mw.ExtractToken(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+oldToken)

	newToken, err := mw.GenerateToken(userID, username, h.sec.JWTSecret, h.sec.JWTTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	_ = h.cache.Set(ctx, "session:"+newToken, strconv.FormatInt(userID, 10), h.sec.JWTTTL)

	c.SetCookie(mw.AccessTokenCookie, newToken, int(h.sec.JWTTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
