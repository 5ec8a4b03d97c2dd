package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDKey is the gin context key the trace id is stored under.
	TraceIDKey = "trace_id"
	// TraceIDHeader carries the trace id on requests and responses.
	TraceIDHeader = "X-Trace-ID"
)

// TraceID tags every request with a trace id, minting a UUID when the
// caller did not send one, and echoes it on the response.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TraceIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(TraceIDKey, id)
		c.Header(TraceIDHeader, id)
		c.Next()
	}
}

// GetTraceID returns the request's trace id, or "" outside the middleware.
func GetTraceID(c *gin.Context) string {
	if v, ok := c.Get(TraceIDKey); ok {
		return v.(string)
	}
	return ""
}
