package identity_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	identity "github.com/veridian/go-identity"
)

func TestAccessClaimsReadSurface(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	claims := &identity.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UID:      "user-1",
		UserRole: "admin",
		Perms:    []string{"users:read"},
	}

	assert.Equal(t, "user-1", claims.Subject())
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "admin", claims.Role())
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("member"))
	assert.True(t, claims.HasPermission("users:read"))
	assert.False(t, claims.HasPermission("users:write"))
	assert.Equal(t, now, claims.IssuedAt())
	assert.Equal(t, now.Add(time.Hour), claims.Expires())
}

func TestAccessClaimsUserIDFallsBackToSubject(t *testing.T) {
	claims := &identity.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-2"},
	}
	assert.Equal(t, "user-2", claims.UserID())
}

func TestRefreshClaimsUserID(t *testing.T) {
	claims := &identity.RefreshClaims{UID: "user-3"}
	assert.Equal(t, "user-3", claims.UserID())

	fallback := &identity.RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-4"},
	}
	assert.Equal(t, "user-4", fallback.UserID())
}
