// Package middleware holds the gin middleware of the HTTP API: JWT
// authentication, error mapping, request logging, metrics and rate limiting.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taxlink/taxchat/internal/app/models/dto"
	"github.com/taxlink/taxchat/internal/pkg/logger"
)

// Recovery turns panics into the standard 500 envelope
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		l := logger.FromContext(c.Request.Context(), logger.L())
		l.Error().
			Interface("panic", recovered).
			Str("path", c.Request.URL.Path).
			Msg("Recovered from panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInternalServer, "Internal server error")))
	})
}
