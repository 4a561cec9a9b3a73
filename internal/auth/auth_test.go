package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/busflow/internal/models"
)

func TestNewService(t *testing.T) {
	service := NewService("", 0)
	assert.NotNil(t, service)
	assert.Equal(t, []byte(defaultSecret), service.jwtSecret)
	assert.Equal(t, 24*time.Hour, service.tokenExp)

	custom := NewService("s3cret", time.Hour)
	assert.Equal(t, []byte("s3cret"), custom.jwtSecret)
	assert.Equal(t, time.Hour, custom.tokenExp)
}

func TestService_GenerateToken(t *testing.T) {
	service := NewService("test-secret", time.Hour)

	token, err := service.GenerateToken(models.User{ID: "d1", Email: "ahmed@busflow.dz", Role: models.RoleDriver})
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestService_ValidateToken(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	user := models.User{ID: "a1", Email: "admin@busflow.dz", Role: models.RoleAdmin, Name: "General Manager"}

	token, err := service.GenerateToken(user)
	require.NoError(t, err)

	// Test valid token
	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	require.NotNil(t, claims)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, user.Role, claims.Role)
	assert.Greater(t, claims.Exp, time.Now().Unix())

	// Test invalid token
	_, err = service.ValidateToken("invalid-token")
	assert.Equal(t, ErrInvalidToken, err)

	// Test token with Bearer prefix
	_, err = service.ValidateToken("Bearer " + token)
	assert.NoError(t, err)

	// Test token signed with another secret
	other, _ := NewService("other-secret", time.Hour).GenerateToken(user)
	_, err = service.ValidateToken(other)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ValidateToken_Expired(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	service.tokenExp = -time.Minute

	token, err := service.GenerateToken(models.User{ID: "d1", Role: models.RoleDriver})
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestService_ValidateToken_BadClaims(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"missing user", jwt.MapClaims{"role": "ADMIN", "exp": exp}},
		{"unknown role", jwt.MapClaims{"user_id": "x", "role": "MECHANIC", "exp": exp}},
		{"missing exp", jwt.MapClaims{"user_id": "x", "role": "ADMIN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ValidateToken(sign(tt.claims))
			assert.Equal(t, ErrInvalidToken, err)
		})
	}
}

func TestService_ExtractTokenFromHeader(t *testing.T) {
	service := NewService("", 0)

	// Test valid header
	extracted, err := service.ExtractTokenFromHeader("Bearer valid-token")
	assert.NoError(t, err)
	assert.Equal(t, "valid-token", extracted)

	// Test empty header
	_, err = service.ExtractTokenFromHeader("")
	assert.Equal(t, ErrInvalidToken, err)

	// Test invalid format
	_, err = service.ExtractTokenFromHeader("InvalidFormat")
	assert.Equal(t, ErrInvalidToken, err)

	// Test missing token
	_, err = service.ExtractTokenFromHeader("Bearer ")
	assert.Equal(t, ErrInvalidToken, err)
}
