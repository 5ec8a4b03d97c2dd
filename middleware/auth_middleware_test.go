package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.CacheConfig{})
	require.NoError(t, err)
	return c
}

func newProtectedRouter(sec config.SecurityConfig, c cache.Cache) *gin.Engine {
	r := gin.New()
	r.Use(Auth(sec, c))
	r.GET("/protected", func(ctx *gin.Context) {
		ctx.Status(http.StatusOK)
	})
	return r
}

func TestAuth_MissingAuthHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTL: time.Hour}
	c := setupTestCache(t)
	r := newProtectedRouter(sec, c)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_NoBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTL: time.Hour}
	c := setupTestCache(t)
	r := newProtectedRouter(sec, c)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTL: time.Hour}
	c := setupTestCache(t)
	r := newProtectedRouter(sec, c)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer notavalidtoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_SessionExpired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTL: time.Hour}
	c := setupTestCache(t)
	r := newProtectedRouter(sec, c)

	// Generate a valid JWT but do NOT store session in cache
	token, err := GenerateToken(42, "alice", "secret", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTL: time.Hour}
	c := setupTestCache(t)
	r := newProtectedRouter(sec, c)

	token, err := GenerateToken(42, "alice", "secret", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "session:"+token, "42", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_CookieToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTL: time.Hour}
	c := setupTestCache(t)
	r := newProtectedRouter(sec, c)

	token, err := GenerateToken(42, "alice", "secret", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "session:"+token, "42", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_SetsIdentityInContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sec := config.SecurityConfig{JWTSecret: "secret", JWTTTL: time.Hour}
	c := setupTestCache(t)

	var gotUserID int64
	var gotUsername string
	r := gin.New()
	r.Use(Auth(sec, c))
	r.GET("/me", func(ctx *gin.Context) {
		gotUserID = GetUserID(ctx)
		gotUsername = GetUsername(ctx)
		ctx.Status(http.StatusOK)
	})

	token, err := GenerateToken(42, "alice", "secret", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "session:"+token, "42", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), gotUserID)
	assert.Equal(t, "alice", gotUsername)
}

func TestGetUserID_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, int64(0), GetUserID(c))
}

func TestGetUserID_Present(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(UserIDKey, int64(99))
	assert.Equal(t, int64(99), GetUserID(c))
}

func TestRecovery_CatchesPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(TraceID())
	r.Use(Recovery(logger))
	r.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRecovery_NoPanic_PassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(Recovery(logger))
	r.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_RequestLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(TraceID())
	r.Use(Logger(logger))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_ErrorResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(Logger(logger))
	r.GET("/fail", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
