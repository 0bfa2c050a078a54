package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
)

func testService() *JWTService {
	return NewJWTService(JWTConfig{SecretKey: "unit-secret", AccessTokenExp: time.Hour, TokenIssuer: "taxchat"})
}

func TestGenerateAndValidate(t *testing.T) {
	svc := testService()

	token, expiresAt, err := svc.GenerateToken(models.Identity{ID: 12, UserType: models.UserTypeUser})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateAndExtractClaims(token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{ID: 12, UserType: models.UserTypeUser}, claims.Identity())
	assert.Equal(t, "12", claims.Subject)
}

func TestValidateAndExtractClaims_Rejects(t *testing.T) {
	svc := testService()

	expired, _, err := NewJWTService(JWTConfig{SecretKey: "unit-secret", AccessTokenExp: -time.Minute, TokenIssuer: "taxchat"}).
		GenerateToken(models.Identity{ID: 1, UserType: models.UserTypeUser})
	require.NoError(t, err)

	otherIssuer, _, err := NewJWTService(JWTConfig{SecretKey: "unit-secret", AccessTokenExp: time.Hour, TokenIssuer: "someone-else"}).
		GenerateToken(models.Identity{ID: 1, UserType: models.UserTypeUser})
	require.NoError(t, err)

	badType, _, err := svc.GenerateToken(models.Identity{ID: 1, UserType: "admin"})
	require.NoError(t, err)

	noUser, _, err := svc.GenerateToken(models.Identity{ID: 0, UserType: models.UserTypeUser})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1, UserType: models.UserTypeUser})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", apperrors.ErrTokenNotFound},
		{"garbage", "abc", apperrors.ErrInvalidFormat},
		{"expired", expired, apperrors.ErrTokenExpired},
		{"wrong issuer", otherIssuer, apperrors.ErrTokenInvalid},
		{"unknown user type", badType, apperrors.ErrTokenInvalid},
		{"missing user id", noUser, apperrors.ErrTokenInvalid},
		{"alg none", unsigned, apperrors.ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAndExtractClaims(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{"Bearer a.b.c", "a.b.c", nil},
		{"bearer   a.b.c ", "a.b.c", nil},
		{"a.b.c", "a.b.c", nil},
		{"", "", apperrors.ErrTokenNotFound},
		{"Basic dXNlcjpwYXNz", "", apperrors.ErrInvalidFormat},
	}

	for _, tt := range tests {
		got, err := ExtractBearerToken(tt.header)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q.q.q", nil)
	got, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "q.q.q", got)

	r.Header.Set("Authorization", "Bearer h.h.h")
	got, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "h.h.h", got)

	_, err = TokenFromRequest(httptest.NewRequest("GET", "/ws", nil))
	assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)
}
