package sse_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emberlink/chatd/api/sse"
	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/chat/notify"
	"github.com/emberlink/chatd/config"
	mw "github.com/emberlink/chatd/middleware"
	"github.com/emberlink/chatd/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sseEnv struct {
	srv *httptest.Server
	h   *sse.Handler
	c   cache.Cache
	ps  cache.PubSub
	sec config.SecurityConfig
}

func newSSEEnv(t *testing.T) *sseEnv {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTL: time.Hour}
	h := sse.NewHandler(ps, c, sec, zap.NewNop())

	r := gin.New()
	r.GET("/sse", h.ServeSSE)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &sseEnv{srv: srv, h: h, c: c, ps: ps, sec: sec}
}

// login mints a token and registers it as a live session.
func (e *sseEnv) login(t *testing.T, userID int64, username string) string {
	t.Helper()
	token, err := mw.GenerateToken(userID, username, e.sec.JWTSecret, e.sec.JWTTTL)
	require.NoError(t, err)
	require.NoError(t, e.c.Set(context.Background(), "session:"+token, "1", time.Hour))
	return token
}

// open connects to the stream and returns a line scanner. The request is
// cancelled on test cleanup.
func (e *sseEnv) open(t *testing.T, token string) *bufio.Scanner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/sse?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewScanner(resp.Body)
}

// nextEvent reads forward to the next "event:" line and returns its name
// and the data line that follows.
func nextEvent(t *testing.T, sc *bufio.Scanner) (string, string) {
	t.Helper()
	var event string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			return event, strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatal("stream closed before next event")
	return "", ""
}

func TestServeSSERejectsBadAuth(t *testing.T) {
	e := newSSEEnv(t)

	resp, err := http.Get(e.srv.URL + "/sse")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/sse?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Valid JWT but no server-side session.
	token, err := mw.GenerateToken(7, "ghost", e.sec.JWTSecret, time.Hour)
	require.NoError(t, err)
	resp, err = http.Get(e.srv.URL + "/sse?token=" + token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeSSEDeliversPersonalNotifications(t *testing.T) {
	e := newSSEEnv(t)
	token := e.login(t, 42, "alice")
	sc := e.open(t, token)

	event, _ := nextEvent(t, sc)
	require.Equal(t, "connected", event)

	// Published after subscribe; a short wait avoids racing the handler.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.ps.Publish(context.Background(), notify.UserChannel(42), `{"type":"chatroom:invited"}`))

	event, data := nextEvent(t, sc)
	assert.Equal(t, "notify", event)
	assert.Contains(t, data, "chatroom:invited")
}

func TestAnnounceReachesAllStreams(t *testing.T) {
	e := newSSEEnv(t)
	aliceSc := e.open(t, e.login(t, 1, "alice"))
	bobSc := e.open(t, e.login(t, 2, "bob"))

	for _, sc := range []*bufio.Scanner{aliceSc, bobSc} {
		event, _ := nextEvent(t, sc)
		require.Equal(t, "connected", event)
	}

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.h.Announce(context.Background(), `{"text":"maintenance at noon"}`))

	for _, sc := range []*bufio.Scanner{aliceSc, bobSc} {
		event, data := nextEvent(t, sc)
		assert.Equal(t, "announce", event)
		assert.Contains(t, data, "maintenance")
	}
}
