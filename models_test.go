package identity_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	identity "github.com/veridian/go-identity"
)

func TestNewPasswordUser(t *testing.T) {
	roleID := uuid.New()

	byEmail := identity.NewPasswordUser(identity.ChannelEmail, "user@example.com", "hash", roleID)
	assert.Equal(t, "user@example.com", byEmail.Email)
	assert.Empty(t, byEmail.Phone)
	assert.Equal(t, identity.AuthModePasswordEmail, byEmail.AuthMode)
	assert.Equal(t, identity.UserStatusPending, byEmail.Status)
	assert.Equal(t, identity.ChannelEmail, byEmail.PrimaryChannel())
	assert.False(t, byEmail.IsFederated())

	byPhone := identity.NewPasswordUser(identity.ChannelPhone, "+14155552671", "hash", roleID)
	assert.Equal(t, "+14155552671", byPhone.Phone)
	assert.Empty(t, byPhone.Email)
	assert.Equal(t, identity.AuthModePasswordPhone, byPhone.AuthMode)
	assert.Equal(t, identity.ChannelPhone, byPhone.PrimaryChannel())
	assert.Equal(t, "+14155552671", byPhone.IdentifierFor(identity.ChannelPhone))
}

func TestNewFederatedUser(t *testing.T) {
	user := identity.NewFederatedUser("provider|1", "fed@example.com", uuid.New())
	assert.Equal(t, identity.AuthModeFederated, user.AuthMode)
	assert.Equal(t, identity.UserStatusActive, user.Status)
	assert.True(t, user.EmailVerified)
	assert.True(t, user.IsFederated())
	assert.Empty(t, user.PasswordHash)
}

func TestUserEnsureStatus(t *testing.T) {
	user := &identity.User{}
	user.EnsureStatus()
	assert.Equal(t, identity.UserStatusPending, user.Status)

	user.Status = identity.UserStatusActive
	user.EnsureStatus()
	assert.Equal(t, identity.UserStatusActive, user.Status)
}

func TestUserVerifiedOn(t *testing.T) {
	user := &identity.User{EmailVerified: true}
	assert.True(t, user.VerifiedOn(identity.ChannelEmail))
	assert.False(t, user.VerifiedOn(identity.ChannelPhone))
}

func TestOTPIsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	otp := &identity.OTP{ExpiresAt: now.Add(10 * time.Minute)}

	assert.False(t, otp.IsExpired(now))
	assert.False(t, otp.IsExpired(now.Add(10*time.Minute)))
	assert.True(t, otp.IsExpired(now.Add(10*time.Minute+time.Second)))
}
