package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/app/models/dto"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
	"github.com/taxlink/taxchat/internal/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func newJWT(exp time.Duration) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{SecretKey: "middleware-secret", AccessTokenExp: exp, TokenIssuer: "taxchat"})
}

func TestJWTAuth(t *testing.T) {
	valid := newJWT(time.Hour)
	goodToken, _, err := valid.GenerateToken(models.Identity{ID: 9, UserType: models.UserTypeTaxAccountant})
	require.NoError(t, err)
	expiredToken, _, err := newJWT(-time.Minute).GenerateToken(models.Identity{ID: 9, UserType: models.UserTypeUser})
	require.NoError(t, err)
	foreignToken, _, err := auth.NewJWTService(auth.JWTConfig{SecretKey: "other", AccessTokenExp: time.Hour, TokenIssuer: "taxchat"}).
		GenerateToken(models.Identity{ID: 9, UserType: models.UserTypeUser})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		code   dto.ErrorCode
	}{
		{"missing header", "", http.StatusUnauthorized, dto.ErrorCodeUnauthorized},
		{"malformed header", "Basic abc", http.StatusUnauthorized, dto.ErrorCodeUnauthorized},
		{"expired", "Bearer " + expiredToken, http.StatusUnauthorized, dto.ErrorCodeExpiredToken},
		{"wrong signature", "Bearer " + foreignToken, http.StatusUnauthorized, dto.ErrorCodeInvalidToken},
		{"valid", "Bearer " + goodToken, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/me", NewAuthMiddleware(valid).JWTAuth(), func(c *gin.Context) {
				id, ok := IdentityFromContext(c)
				require.True(t, ok)
				c.JSON(http.StatusOK, gin.H{"id": id.ID, "type": id.UserType})
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeError(t, w).Error.Code)
				return
			}
			assert.JSONEq(t, `{"id":9,"type":"tax_accountant"}`, w.Body.String())
		})
	}
}

func TestIdentityFromContext_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := IdentityFromContext(c)
	assert.False(t, ok)

	c.Set(ContextUserID, int64(0))
	_, ok = IdentityFromContext(c)
	assert.False(t, ok)
}

func TestHandleAPIError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    dto.ErrorCode
		message string
	}{
		{"not found", apperrors.NewResourceNotFoundError("Chat room not found"), http.StatusNotFound, dto.ErrorCodeResourceNotFound, "Chat room not found"},
		{"forbidden", apperrors.NewForbiddenError("nope"), http.StatusForbidden, dto.ErrorCodeForbidden, "nope"},
		{"validation", apperrors.NewValidationError("bad title"), http.StatusBadRequest, dto.ErrorCodeValidationFailed, "bad title"},
		{"rate limited", apperrors.NewRateLimitedError("slow down"), http.StatusTooManyRequests, dto.ErrorCodeRateLimited, "slow down"},
		{"storage", apperrors.NewStorageError(errors.New("pq: connection refused"), "Failed to send message"), http.StatusInternalServerError, dto.ErrorCodeDatabaseError, "Failed to send message"},
		{"expired token", apperrors.ErrTokenExpired, http.StatusUnauthorized, dto.ErrorCodeExpiredToken, "Token expired"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, dto.ErrorCodeInternalServer, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			HandleAPIError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, tt.message, resp.Error.Message)
			assert.NotContains(t, w.Body.String(), "connection refused")
			if tt.status >= http.StatusInternalServerError {
				assert.Equal(t, dto.ErrorSeverityCritical, resp.Error.Severity)
			}
		})
	}
}

type fakeCounter struct {
	hits map[string]int64
	err  error
}

func (f *fakeCounter) Hit(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := f.hits[key]
	f.hits[key] = n + 1
	return n, nil
}

func limitedRouter(counter WindowCounter, requests int) *gin.Engine {
	router := gin.New()
	limiter := NewRateLimiter(counter, zerolog.Nop())
	router.POST("/send",
		func(c *gin.Context) {
			c.Set(ContextUserID, int64(5))
			c.Next()
		},
		limiter.Limit("send", requests, time.Minute),
		func(c *gin.Context) { c.Status(http.StatusCreated) },
	)
	return router
}

func TestRateLimiter_Limit(t *testing.T) {
	router := limitedRouter(&fakeCounter{hits: map[string]int64{}}, 2)

	for i, want := range []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
		require.Equal(t, want, w.Code, "request %d", i+1)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		if want == http.StatusTooManyRequests {
			assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
			assert.Equal(t, dto.ErrorCodeRateLimited, decodeError(t, w).Error.Code)
		}
	}
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	router := limitedRouter(&fakeCounter{err: errors.New("redis down")}, 1)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
	}
}

func TestRateLimiter_NilLimiterIsNoop(t *testing.T) {
	var limiter *RateLimiter
	router := gin.New()
	router.GET("/", func(c *gin.Context) { c.Set(ContextUserID, int64(1)) }, limiter.Limit("send", 1, time.Minute),
		func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger(zerolog.Nop()))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Recovery())
	router.GET("/", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, dto.ErrorCodeInternalServer, decodeError(t, w).Error.Code)
}
