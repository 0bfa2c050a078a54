package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/taxlink/taxchat/internal/pkg/logger"
)

const headerRequestID = "X-Request-ID"

// RequestLogger tags each request with an X-Request-ID, stores a child
// logger in the request context and logs the completed request
func RequestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		child := base.With().
			Str("requestID", reqID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("clientIP", c.ClientIP()).
			Logger()

		c.Header(headerRequestID, reqID)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), child))

		c.Next()

		evt := child.Info()
		if c.Writer.Status() >= 500 {
			evt = child.Warn()
		}
		evt = evt.
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start))
		if userID, ok := c.Get(ContextUserID); ok {
			if id, ok := userID.(int64); ok {
				evt = evt.Int64("userID", id)
			}
		}
		evt.Msg("Request completed")
	}
}
