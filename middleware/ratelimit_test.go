package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

// hitFrom issues one request against eng spoofing the client address.
func hitFrom(eng *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	eng.ServeHTTP(w, req)
	return w.Code
}

func rateLimitedEngine(limit rate.Limit, burst int) *gin.Engine {
	eng := gin.New()
	eng.Use(RateLimit(limit, burst))
	eng.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return eng
}

func TestRateLimitBurstThenReject(t *testing.T) {
	// Refill is effectively zero, so only the burst passes.
	eng := rateLimitedEngine(0.001, 2)

	codes := []int{
		hitFrom(eng, "192.0.2.10"),
		hitFrom(eng, "192.0.2.10"),
		hitFrom(eng, "192.0.2.10"),
	}
	assert.Equal(t, []int{
		http.StatusOK,
		http.StatusOK,
		http.StatusTooManyRequests,
	}, codes)
}

func TestRateLimitBucketsPerClient(t *testing.T) {
	eng := rateLimitedEngine(0.001, 1)

	assert.Equal(t, http.StatusOK, hitFrom(eng, "192.0.2.20"))
	assert.Equal(t, http.StatusTooManyRequests, hitFrom(eng, "192.0.2.20"))

	// A different client still has its own budget.
	assert.Equal(t, http.StatusOK, hitFrom(eng, "192.0.2.21"))
}

func TestRateLimitGenerousBudgetPasses(t *testing.T) {
	eng := rateLimitedEngine(100, 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hitFrom(eng, "192.0.2.30"))
	}
}
