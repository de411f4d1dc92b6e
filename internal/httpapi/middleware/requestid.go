package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gemini-chat/internal/common"
)

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
)

// RequestID reuses a sane inbound X-Request-ID or mints a ULID, and echoes it
// on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" || len(rid) > 64 {
			var err error
			if rid, err = common.NewULID(); err != nil {
				rid = "unknown"
			}
		}
		c.Set(RequestIDKey, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}
