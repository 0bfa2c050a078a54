package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/app/models/dto"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
	"github.com/taxlink/taxchat/internal/pkg/auth"
	"github.com/taxlink/taxchat/internal/pkg/logger"
)

// Context keys set by JWTAuth
const (
	ContextUserID   = "userID"
	ContextUserType = "userType"
)

// AuthMiddleware for authentication
type AuthMiddleware struct {
	jwtService *auth.JWTService
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(jwtService *auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

// JWTAuth middleware for JWT token validation
func (m *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			detail := dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")
			if errors.Is(err, apperrors.ErrInvalidFormat) {
				detail = detail.WithDetails("Invalid token format")
			} else {
				detail = detail.WithDetails("Authorization header missing")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(detail))
			return
		}

		claims, err := m.jwtService.ValidateAndExtractClaims(tokenString)
		if err != nil {
			errorCode := dto.ErrorCodeInvalidToken
			errorDetails := "Invalid token"

			if errors.Is(err, apperrors.ErrTokenExpired) {
				errorCode = dto.ErrorCodeExpiredToken
				errorDetails = "Token has expired"
			} else if errors.Is(err, apperrors.ErrInvalidFormat) {
				errorDetails = "Invalid token format"
			}

			detail := dto.NewErrorDetail(errorCode, "Authentication failed").WithDetails(errorDetails)
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(detail))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserType, claims.UserType)

		l := logger.FromContext(c.Request.Context(), logger.L()).With().Int64("userID", claims.UserID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), l))

		c.Next()
	}
}

// IdentityFromContext returns the caller stored by JWTAuth
func IdentityFromContext(c *gin.Context) (models.Identity, bool) {
	id, ok := c.Get(ContextUserID)
	if !ok {
		return models.Identity{}, false
	}
	userID, ok := id.(int64)
	if !ok || userID <= 0 {
		return models.Identity{}, false
	}
	userType, _ := c.Get(ContextUserType)
	ut, _ := userType.(models.UserType)
	return models.Identity{ID: userID, UserType: ut}, true
}
