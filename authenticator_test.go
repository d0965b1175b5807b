package identity_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/veridian/go-identity"
)

func newAuther(t *testing.T) (identity.RepositoryManager, *identity.Auther, *captureNotifier, func()) {
	t.Helper()

	repo, cleanup := setupIdentityDB(t)
	seedRole(t, repo, "member", "profile:read")

	notifier := &captureNotifier{}
	auther := identity.NewAuthenticator(repo, testConfig()).
		WithNotifier(notifier)

	return repo, auther, notifier, cleanup
}

func registerAndVerify(t *testing.T, auther *identity.Auther, notifier *captureNotifier, email, password string) *identity.User {
	t.Helper()
	ctx := context.Background()

	user, err := auther.Register(ctx, identity.RegisterPayload{
		Email:    email,
		Password: password,
		Channel:  identity.ChannelEmail,
		RoleName: "member",
	})
	require.NoError(t, err)

	_, err = auther.VerifyOTP(ctx, identity.VerifyOTPPayload{
		UserID:  user.ID.String(),
		Code:    notifier.emailCode,
		Channel: identity.ChannelEmail,
	})
	require.NoError(t, err)

	return user
}

func TestRegisterCreatesPendingUserAndIssuesCode(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user, err := auther.Register(ctx, identity.RegisterPayload{
		FirstName: "Ada",
		Email:     "ada@example.com",
		Password:  "a long enough password",
		Channel:   identity.ChannelEmail,
		RoleName:  "member",
	})
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusPending, user.Status)
	assert.Equal(t, identity.AuthModePasswordEmail, user.AuthMode)
	assert.Equal(t, "Ada", user.FirstName)
	assert.NotEqual(t, "a long enough password", user.PasswordHash)

	assert.Equal(t, "ada@example.com", notifier.emailTo)
	assert.Len(t, notifier.emailCode, identity.OTPCodeLength)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	_, auther, _, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	payload := identity.RegisterPayload{
		Email:    "ada@example.com",
		Password: "a long enough password",
		Channel:  identity.ChannelEmail,
		RoleName: "member",
	}

	_, err := auther.Register(ctx, payload)
	require.NoError(t, err)

	_, err = auther.Register(ctx, payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrEmailTaken)
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	_, auther, _, cleanup := newAuther(t)
	defer cleanup()

	_, err := auther.Register(context.Background(), identity.RegisterPayload{
		Email:    "ada@example.com",
		Password: "a long enough password",
		Channel:  identity.ChannelEmail,
		RoleName: "ghost-role",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrRoleNotFound)
}

func TestLoginBeforeVerificationRequiresOTP(t *testing.T) {
	_, auther, _, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user, err := auther.Register(ctx, identity.RegisterPayload{
		Email:    "ada@example.com",
		Password: "a long enough password",
		Channel:  identity.ChannelEmail,
		RoleName: "member",
	})
	require.NoError(t, err)

	// even with the wrong password: no password check happens pre-verification
	result, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "completely wrong guess",
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)
	assert.True(t, result.RequiresOTP)
	assert.Equal(t, identity.ChannelEmail, result.Channel)
	assert.Equal(t, user.ID.String(), result.UserID)
	assert.Empty(t, result.Tokens.AccessToken)
}

func TestVerifyOTPActivatesAndIssuesTokens(t *testing.T) {
	repo, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user, err := auther.Register(ctx, identity.RegisterPayload{
		Email:    "ada@example.com",
		Password: "a long enough password",
		Channel:  identity.ChannelEmail,
		RoleName: "member",
	})
	require.NoError(t, err)

	_, err = auther.VerifyOTP(ctx, identity.VerifyOTPPayload{
		UserID:  user.ID.String(),
		Code:    "000000",
		Channel: identity.ChannelEmail,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrOTPMismatch)

	result, err := auther.VerifyOTP(ctx, identity.VerifyOTPPayload{
		UserID:  user.ID.String(),
		Code:    notifier.emailCode,
		Channel: identity.ChannelEmail,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)
	assert.Equal(t, "member", result.Role)
	assert.ElementsMatch(t, []string{"profile:read"}, result.Permissions)

	stored, err := repo.Users().GetByUUID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusActive, stored.Status)
	assert.True(t, stored.EmailVerified)

	claims, err := auther.TokenService().ValidateAccess(result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.True(t, claims.HasPermission("profile:read"))
}

func TestLoginAfterVerification(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user := registerAndVerify(t, auther, notifier, "ada@example.com", "a long enough password")

	result, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "a long enough password",
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)
	assert.False(t, result.RequiresOTP)
	assert.Equal(t, user.ID.String(), result.UserID)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.Equal(t, "member", result.Role)
}

func TestLoginFailuresCollapseToInvalidCredentials(t *testing.T) {
	repo, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user := registerAndVerify(t, auther, notifier, "ada@example.com", "a long enough password")

	t.Run("wrong password", func(t *testing.T) {
		_, err := auther.Login(ctx, identity.LoginPayload{
			Identifier: "ada@example.com",
			Password:   "completely wrong guess",
			Channel:    identity.ChannelEmail,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := auther.Login(ctx, identity.LoginPayload{
			Identifier: "ghost@example.com",
			Password:   "a long enough password",
			Channel:    identity.ChannelEmail,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})

	t.Run("suspended account", func(t *testing.T) {
		stored, err := repo.Users().GetByUUID(ctx, user.ID)
		require.NoError(t, err)
		_, err = repo.Users().Suspend(ctx, identity.ActorRef{ID: "admin"}, stored)
		require.NoError(t, err)

		_, err = auther.Login(ctx, identity.LoginPayload{
			Identifier: "ada@example.com",
			Password:   "a long enough password",
			Channel:    identity.ChannelEmail,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})
}

func TestPhoneChannelRegistrationAndLogin(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user, err := auther.Register(ctx, identity.RegisterPayload{
		Phone:    "(415) 555-2671",
		Password: "a long enough password",
		Channel:  identity.ChannelPhone,
		RoleName: "member",
	})
	require.NoError(t, err)
	assert.Equal(t, "+14155552671", user.Phone)
	assert.Equal(t, identity.AuthModePasswordPhone, user.AuthMode)
	assert.Equal(t, "+14155552671", notifier.smsTo)

	_, err = auther.VerifyOTP(ctx, identity.VerifyOTPPayload{
		UserID:  user.ID.String(),
		Code:    notifier.smsCode,
		Channel: identity.ChannelPhone,
	})
	require.NoError(t, err)

	// login normalizes the identifier the same way
	result, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "415-555-2671",
		Password:   "a long enough password",
		Channel:    identity.ChannelPhone,
	})
	require.NoError(t, err)
	assert.False(t, result.RequiresOTP)
	assert.NotEmpty(t, result.Tokens.AccessToken)
}

func TestResendOTP(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user, err := auther.Register(ctx, identity.RegisterPayload{
		Email:    "ada@example.com",
		Password: "a long enough password",
		Channel:  identity.ChannelEmail,
		RoleName: "member",
	})
	require.NoError(t, err)

	firstCode := notifier.emailCode
	require.NoError(t, auther.ResendOTP(ctx, user.ID, identity.ChannelEmail))

	// the first code was invalidated by the resend
	_, err = auther.VerifyOTP(ctx, identity.VerifyOTPPayload{
		UserID:  user.ID.String(),
		Code:    firstCode,
		Channel: identity.ChannelEmail,
	})
	if firstCode != notifier.emailCode {
		require.Error(t, err)
	}

	_, err = auther.VerifyOTP(ctx, identity.VerifyOTPPayload{
		UserID:  user.ID.String(),
		Code:    notifier.emailCode,
		Channel: identity.ChannelEmail,
	})
	require.NoError(t, err)

	err = auther.ResendOTP(ctx, user.ID, identity.ChannelEmail)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrChannelVerified)
}

func TestRefreshRotationAndReplay(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	registerAndVerify(t, auther, notifier, "ada@example.com", "a long enough password")

	login, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "a long enough password",
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)

	rotated, err := auther.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.Tokens.RefreshToken, rotated.Tokens.RefreshToken)

	_, err = auther.Refresh(ctx, login.Tokens.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrTokenInvalid)

	_, err = auther.Refresh(ctx, rotated.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestLogoutIsIdempotent(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	registerAndVerify(t, auther, notifier, "ada@example.com", "a long enough password")

	login, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "a long enough password",
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)

	require.NoError(t, auther.Logout(ctx, login.Tokens.RefreshToken))
	require.NoError(t, auther.Logout(ctx, login.Tokens.RefreshToken))
	require.NoError(t, auther.Logout(ctx, "never-issued"))

	_, err = auther.Refresh(ctx, login.Tokens.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrTokenInvalid)
}

func TestChangePassword(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user := registerAndVerify(t, auther, notifier, "ada@example.com", "a long enough password")

	login, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "a long enough password",
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)

	err = auther.ChangePassword(ctx, user.ID, identity.ChangePasswordPayload{
		Current: "completely wrong guess",
		New:     "a brand new password",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	require.NoError(t, auther.ChangePassword(ctx, user.ID, identity.ChangePasswordPayload{
		Current: "a long enough password",
		New:     "a brand new password",
	}))

	// every refresh session died with the old password
	_, err = auther.Refresh(ctx, login.Tokens.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrTokenInvalid)

	_, err = auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "a long enough password",
		Channel:    identity.ChannelEmail,
	})
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	result, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "a brand new password",
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)
}

func TestPasswordResetFlow(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user := registerAndVerify(t, auther, notifier, "ada@example.com", "a long enough password")

	login, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "a long enough password",
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)

	require.NoError(t, auther.RequestPasswordReset(ctx, identity.ChannelEmail, "ada@example.com"))
	resetCode := notifier.emailCode

	// unknown identifiers stay silent
	require.NoError(t, auther.RequestPasswordReset(ctx, identity.ChannelEmail, "ghost@example.com"))

	err = auther.ResetPassword(ctx, identity.ResetPasswordPayload{
		UserID:      user.ID.String(),
		Code:        "000000",
		Channel:     identity.ChannelEmail,
		NewPassword: "a recovered password",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrOTPMismatch)

	require.NoError(t, auther.ResetPassword(ctx, identity.ResetPasswordPayload{
		UserID:      user.ID.String(),
		Code:        resetCode,
		Channel:     identity.ChannelEmail,
		NewPassword: "a recovered password",
	}))

	_, err = auther.Refresh(ctx, login.Tokens.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrTokenInvalid)

	result, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "a recovered password",
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)
}

func TestRegisterWithTemporaryPassword(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user, temp, err := auther.RegisterWithTemporaryPassword(ctx, identity.RegisterPayload{
		Email:    "invited@example.com",
		Channel:  identity.ChannelEmail,
		RoleName: "member",
	})
	require.NoError(t, err)
	require.NotEmpty(t, temp)
	assert.False(t, user.PasswordChanged)

	_, err = auther.VerifyOTP(ctx, identity.VerifyOTPPayload{
		UserID:  user.ID.String(),
		Code:    notifier.emailCode,
		Channel: identity.ChannelEmail,
	})
	require.NoError(t, err)

	result, err := auther.Login(ctx, identity.LoginPayload{
		Identifier: "invited@example.com",
		Password:   temp,
		Channel:    identity.ChannelEmail,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)
}

func TestFederatedRegisterAndLogin(t *testing.T) {
	_, auther, _, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user, err := auther.RegisterFederated(ctx, identity.FederatedRegisterPayload{
		ExternalID: "provider|12345",
		Email:      "fed@example.com",
		RoleName:   "member",
	})
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusActive, user.Status)
	assert.Equal(t, identity.AuthModeFederated, user.AuthMode)
	assert.True(t, user.EmailVerified)
	assert.Empty(t, user.PasswordHash)

	// external ids are single-registration
	_, err = auther.RegisterFederated(ctx, identity.FederatedRegisterPayload{
		ExternalID: "provider|12345",
		RoleName:   "member",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrExternalIDTaken)

	result, err := auther.LoginFederated(ctx, "provider|12345")
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), result.UserID)
	assert.NotEmpty(t, result.Tokens.AccessToken)

	_, err = auther.LoginFederated(ctx, "provider|unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestFederatedAccountRejectsPasswordOperations(t *testing.T) {
	_, auther, _, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user, err := auther.RegisterFederated(ctx, identity.FederatedRegisterPayload{
		ExternalID: "provider|12345",
		Email:      "fed@example.com",
		RoleName:   "member",
	})
	require.NoError(t, err)

	_, err = auther.Login(ctx, identity.LoginPayload{
		Identifier: "fed@example.com",
		Password:   "any password at all",
		Channel:    identity.ChannelEmail,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	err = auther.ChangePassword(ctx, user.ID, identity.ChangePasswordPayload{
		Current: "any password at all",
		New:     "another password here",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrFederatedNoPassword)
}

func TestUpdateProfileThroughAuthenticator(t *testing.T) {
	_, auther, notifier, cleanup := newAuther(t)
	defer cleanup()
	ctx := context.Background()

	user := registerAndVerify(t, auther, notifier, "ada@example.com", "a long enough password")

	first := "Ada"
	updated, err := auther.UpdateProfile(ctx, user.ID, identity.ProfileUpdate{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.FirstName)
}

func TestAuthenticatorEmitsActivityEvents(t *testing.T) {
	repo, cleanup := setupIdentityDB(t)
	defer cleanup()
	ctx := context.Background()

	seedRole(t, repo, "member")
	notifier := &captureNotifier{}
	sink := &recordingSink{}
	auther := identity.NewAuthenticator(repo, testConfig()).
		WithNotifier(notifier).
		WithActivitySink(sink)

	user, err := auther.Register(ctx, identity.RegisterPayload{
		Email:    "ada@example.com",
		Password: "a long enough password",
		Channel:  identity.ChannelEmail,
		RoleName: "member",
	})
	require.NoError(t, err)

	_, err = auther.VerifyOTP(ctx, identity.VerifyOTPPayload{
		UserID:  user.ID.String(),
		Code:    notifier.emailCode,
		Channel: identity.ChannelEmail,
	})
	require.NoError(t, err)

	_, err = auther.Login(ctx, identity.LoginPayload{
		Identifier: "ada@example.com",
		Password:   "completely wrong guess",
		Channel:    identity.ChannelEmail,
	})
	require.Error(t, err)

	assert.True(t, sink.has(identity.ActivityEventUserRegistered))
	assert.True(t, sink.has(identity.ActivityEventOTPIssued))
	assert.True(t, sink.has(identity.ActivityEventOTPVerified))
	assert.True(t, sink.has(identity.ActivityEventLoginSuccess))
	assert.True(t, sink.has(identity.ActivityEventLoginFailure))
}

func TestVerifyOTPForUnknownUser(t *testing.T) {
	_, auther, _, cleanup := newAuther(t)
	defer cleanup()

	_, err := auther.VerifyOTP(context.Background(), identity.VerifyOTPPayload{
		UserID:  uuid.NewString(),
		Code:    "123456",
		Channel: identity.ChannelEmail,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrOTPNotFound)
}

func TestWithNotifierKeepsOTPEngineSettings(t *testing.T) {
	repo, cleanup := setupIdentityDB(t)
	defer cleanup()
	seedRole(t, repo, "member")
	ctx := context.Background()

	auther := identity.NewAuthenticator(repo, testConfig())
	auther.OTP().WithCodeGenerator(func() (string, error) { return "424242", nil })

	notifier := &captureNotifier{}
	auther.WithNotifier(notifier)

	_, err := auther.Register(ctx, identity.RegisterPayload{
		Email:    "keep@example.com",
		Password: "a long enough password",
		Channel:  identity.ChannelEmail,
		RoleName: "member",
	})
	require.NoError(t, err)
	assert.Equal(t, "424242", notifier.emailCode)
}
