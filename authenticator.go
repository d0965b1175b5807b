package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// Auther orchestrates the authentication flows. It composes the repositories,
// the OTP engine, the token service, and the session store, and is the only
// layer that collapses lookup and credential failures into the generic
// invalid-credentials class before they cross the boundary.
type Auther struct {
	repo     RepositoryManager
	cfg      Config
	tokens   TokenService
	resolver *Resolver
	sessions *SessionStore
	otp      *OTPEngine
	notifier Notifier
	logger   Logger
	sink     ActivitySink
	now      func() time.Time
}

// NewAuthenticator returns a new Authenticator wired over the repository
// manager. Collaborators are built with defaults and can be swapped through
// the With* methods.
func NewAuthenticator(repo RepositoryManager, cfg Config) *Auther {
	logger := defLogger{}
	tokens := NewTokenService(cfg, logger)
	resolver := NewResolver(repo.DB())

	s := &Auther{
		repo:     repo,
		cfg:      cfg,
		tokens:   tokens,
		resolver: resolver,
		notifier: noopNotifier{},
		logger:   logger,
		sink:     noopActivitySink{},
		now:      time.Now,
	}

	s.sessions = NewSessionStore(repo.DB(), repo.RefreshTokens(), tokens, resolver, cfg)
	s.otp = NewOTPEngine(repo.DB(), repo.OTPs(), s.notifier, cfg)

	return s
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger == nil {
		return s
	}
	s.logger = logger
	s.sessions.WithLogger(logger)
	s.otp.WithLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events. The
// sink is shared with the session store and the OTP engine.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.sink = normalizeActivitySink(sink)
	s.sessions.WithActivitySink(s.sink)
	s.otp.WithActivitySink(s.sink)
	return s
}

// WithNotifier sets the out-of-band code delivery channel. The OTP engine is
// updated in place so previously injected clocks or code generators survive.
func (s *Auther) WithNotifier(notifier Notifier) *Auther {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	s.notifier = notifier
	s.otp.WithNotifier(notifier)
	return s
}

// WithClock injects a custom clock shared by every collaborator (useful for
// tests).
func (s *Auther) WithClock(clock func() time.Time) *Auther {
	if clock == nil {
		return s
	}
	s.now = clock
	s.sessions.WithClock(clock)
	s.otp.WithClock(clock)
	if impl, ok := s.tokens.(*TokenServiceImpl); ok {
		impl.WithClock(clock)
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator.
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// Sessions returns the session store used by this Authenticator.
func (s *Auther) Sessions() *SessionStore {
	return s.sessions
}

// OTP returns the OTP engine used by this Authenticator.
func (s *Auther) OTP() *OTPEngine {
	return s.otp
}

// Register creates a pending password-mode principal and issues a
// verification code on the registration channel. The account cannot log in
// until the code is verified.
func (s *Auther) Register(ctx context.Context, p RegisterPayload) (*User, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	email := p.Email
	phone := p.Phone
	if phone != "" {
		normalized, err := NormalizePhone(phone, s.cfg.PhoneRegion)
		if err != nil {
			return nil, err
		}
		phone = normalized
	}

	role, err := s.repo.Roles().GetByName(ctx, p.RoleName)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Users().EnsureUnique(ctx, email, phone, ""); err != nil {
		return nil, err
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	identifier := email
	if p.Channel == ChannelPhone {
		identifier = phone
	}

	user := NewPasswordUser(p.Channel, identifier, hash, role.ID)
	user.Email = email
	user.Phone = phone
	user.FirstName = p.FirstName
	user.LastName = p.LastName

	created, err := s.repo.Users().Register(ctx, user)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventUserRegistered, ActorRef{ID: created.ID.String(), Type: "user"}, created.ID.String(), map[string]any{
		"channel":   p.Channel,
		"auth_mode": created.AuthMode,
		"role":      role.Name,
	})

	if _, err := s.otp.Issue(ctx, created, p.Channel); err != nil {
		s.logger.Error("Register failed to issue verification code user_id=%s error=%v", created.ID.String(), err)
		return created, err
	}

	return created, nil
}

// RegisterWithTemporaryPassword registers a principal on behalf of an
// administrator. The generated password is returned exactly once and the
// account keeps password_changed unset until the principal picks their own.
func (s *Auther) RegisterWithTemporaryPassword(ctx context.Context, p RegisterPayload) (*User, string, error) {
	temp := GenerateTemporaryPassword()
	p.Password = temp

	user, err := s.Register(ctx, p)
	if err != nil {
		return user, "", err
	}

	return user, temp, nil
}

// RegisterFederated creates an active federated principal. The account id is
// derived deterministically from the external identity id, so re-registration
// of the same external identity maps to the same account id.
func (s *Auther) RegisterFederated(ctx context.Context, p FederatedRegisterPayload) (*User, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	role, err := s.repo.Roles().GetByName(ctx, p.RoleName)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Users().EnsureUnique(ctx, p.Email, "", p.ExternalID); err != nil {
		return nil, err
	}

	user := NewFederatedUser(p.ExternalID, p.Email, role.ID)
	user.FirstName = p.FirstName
	user.LastName = p.LastName

	if id, err := hashid.NewUUID(p.ExternalID); err == nil {
		user.ID = id
	}

	created, err := s.repo.Users().Register(ctx, user)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventUserRegistered, ActorRef{ID: created.ID.String(), Type: "user"}, created.ID.String(), map[string]any{
		"auth_mode": AuthModeFederated,
		"role":      role.Name,
	})

	return created, nil
}

// Login authenticates a password-mode principal by channel identifier. When
// the channel is still unverified the result short-circuits to RequiresOTP
// before any password comparison, so an unverified account never leaks
// whether the password was right. Lookup misses, federated accounts, inactive
// accounts, and password mismatches all collapse into ErrInvalidCredentials.
func (s *Auther) Login(ctx context.Context, p LoginPayload) (*LoginResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	identifier := p.Identifier
	if p.Channel == ChannelPhone {
		normalized, err := NormalizePhone(identifier, s.cfg.PhoneRegion)
		if err != nil {
			return nil, err
		}
		identifier = normalized
	}

	user, err := s.lookupByChannel(ctx, p.Channel, identifier)
	if err != nil {
		if goerrors.IsNotFound(err) {
			s.emitLoginFailure(ctx, "", identifier, "unknown identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	user.EnsureStatus()

	if user.Status == UserStatusInactive {
		s.emitLoginFailure(ctx, user.ID.String(), identifier, "account inactive")
		return nil, ErrInvalidCredentials
	}

	if user.IsFederated() {
		s.emitLoginFailure(ctx, user.ID.String(), identifier, "federated account")
		return nil, ErrInvalidCredentials
	}

	if !user.VerifiedOn(p.Channel) {
		s.emitAuthEvent(ctx, ActivityEventLoginRequiresOTP, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
			"channel": p.Channel,
		})
		return &LoginResult{
			RequiresOTP: true,
			Channel:     p.Channel,
			UserID:      user.ID.String(),
		}, nil
	}

	if err := ComparePasswordAndHash(p.Password, user.PasswordHash); err != nil {
		s.emitLoginFailure(ctx, user.ID.String(), identifier, "password mismatch")
		return nil, ErrInvalidCredentials
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"channel": p.Channel,
	})

	return result, nil
}

// LoginFederated authenticates a federated principal whose identity was
// already asserted by the external provider. There is no password and no OTP
// step; the account only has to exist and be active.
func (s *Auther) LoginFederated(ctx context.Context, externalID string) (*LoginResult, error) {
	user, err := s.repo.Users().GetByExternalID(ctx, externalID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			s.emitLoginFailure(ctx, "", externalID, "unknown external identity")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	user.EnsureStatus()
	if user.Status != UserStatusActive {
		s.emitLoginFailure(ctx, user.ID.String(), externalID, "account not active")
		return nil, ErrInvalidCredentials
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventFederatedLogin, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), nil)

	return result, nil
}

// VerifyOTP checks a submitted code, marks the channel verified, activates a
// pending account, and issues the first token pair. This is the only path
// from pending to active.
func (s *Auther) VerifyOTP(ctx context.Context, p VerifyOTPPayload) (*LoginResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return nil, ErrOTPNotFound
	}

	if _, err := s.otp.Verify(ctx, userID, p.Code, p.Channel); err != nil {
		return nil, err
	}

	if err := s.repo.Users().MarkChannelVerified(ctx, userID, p.Channel); err != nil {
		return nil, err
	}

	user, err := s.repo.Users().GetByUUID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Status == UserStatusPending {
		user, err = s.repo.Users().Activate(ctx, ActorRef{ID: user.ID.String(), Type: "user"}, user,
			WithTransitionReason("channel verified"),
			WithTransitionMetadata(map[string]any{"channel": p.Channel}),
		)
		if err != nil {
			return nil, err
		}
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"channel": p.Channel,
		"via":     "otp",
	})

	return result, nil
}

// ResendOTP invalidates any pending code for the channel and issues a fresh
// one. Requesting a code for an already verified channel is a conflict.
func (s *Auther) ResendOTP(ctx context.Context, userID uuid.UUID, channel Channel) error {
	user, err := s.repo.Users().GetByUUID(ctx, userID)
	if err != nil {
		return err
	}

	if user.VerifiedOn(channel) {
		return ErrChannelVerified
	}

	_, err = s.otp.Issue(ctx, user, channel)
	return err
}

// Refresh rotates a refresh token for a fresh pair. Authorization is
// re-resolved during rotation, so role and permission changes take effect
// without a new login.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (*RotationResult, error) {
	return s.sessions.Rotate(ctx, refreshToken)
}

// Logout revokes the refresh session for the given token. It always succeeds
// for well-formed input: revoking an unknown or already-revoked token is a
// no-op.
func (s *Auther) Logout(ctx context.Context, refreshToken string) error {
	userID := ""
	if claims, err := s.tokens.ValidateRefresh(refreshToken); err == nil {
		userID = claims.UserID()
	}

	if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{ID: userID, Type: "user"}, userID, nil)
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every refresh session so stolen refresh tokens die with the old
// password.
func (s *Auther) ChangePassword(ctx context.Context, userID uuid.UUID, p ChangePasswordPayload) error {
	if err := p.Validate(); err != nil {
		return err
	}

	user, err := s.repo.Users().GetByUUID(ctx, userID)
	if err != nil {
		return err
	}

	if user.IsFederated() {
		return ErrFederatedNoPassword
	}

	if err := ComparePasswordAndHash(p.Current, user.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(p.New)
	if err != nil {
		return err
	}

	if err := s.repo.Users().SetPassword(ctx, userID, hash); err != nil {
		return err
	}

	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.logger.Warn("ChangePassword failed to revoke sessions user_id=%s error=%v", userID.String(), err)
	}

	s.emitAuthEvent(ctx, ActivityEventPasswordChanged, ActorRef{ID: userID.String(), Type: "user"}, userID.String(), nil)
	return nil
}

// RequestPasswordReset issues a reset code on the given channel. The outcome
// is silent for unknown identifiers and federated accounts so the endpoint
// cannot be used to probe which identifiers exist.
func (s *Auther) RequestPasswordReset(ctx context.Context, channel Channel, identifier string) error {
	if channel == ChannelPhone {
		normalized, err := NormalizePhone(identifier, s.cfg.PhoneRegion)
		if err != nil {
			return err
		}
		identifier = normalized
	}

	user, err := s.lookupByChannel(ctx, channel, identifier)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if user.IsFederated() {
		return nil
	}

	if _, err := s.otp.Issue(ctx, user, channel); err != nil {
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventPasswordReset, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"channel": channel,
	})
	return nil
}

// ResetPassword finishes a reset: the submitted code proves control of the
// channel, the new hash is stored, and every refresh session is revoked. The
// channel is also marked verified since the principal just proved it.
func (s *Auther) ResetPassword(ctx context.Context, p ResetPasswordPayload) error {
	if err := p.Validate(); err != nil {
		return err
	}

	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return ErrOTPNotFound
	}

	user, err := s.repo.Users().GetByUUID(ctx, userID)
	if err != nil {
		return err
	}

	if user.IsFederated() {
		return ErrFederatedNoPassword
	}

	if _, err := s.otp.Verify(ctx, userID, p.Code, p.Channel); err != nil {
		return err
	}

	hash, err := HashPassword(p.NewPassword)
	if err != nil {
		return err
	}

	if err := s.repo.Users().SetPassword(ctx, userID, hash); err != nil {
		return err
	}

	if err := s.repo.Users().MarkChannelVerified(ctx, userID, p.Channel); err != nil {
		s.logger.Warn("ResetPassword failed to mark channel verified user_id=%s error=%v", userID.String(), err)
	}

	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.logger.Warn("ResetPassword failed to revoke sessions user_id=%s error=%v", userID.String(), err)
	}

	s.emitAuthEvent(ctx, ActivityEventPasswordChanged, ActorRef{ID: userID.String(), Type: "user"}, userID.String(), map[string]any{
		"via": "reset",
	})
	return nil
}

// UpdateProfile applies a partial profile update and returns the fresh record.
func (s *Auther) UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*User, error) {
	return s.repo.Users().UpdateProfile(ctx, userID, update)
}

func (s *Auther) lookupByChannel(ctx context.Context, channel Channel, identifier string) (*User, error) {
	if channel == ChannelPhone {
		return s.repo.Users().GetByPhone(ctx, identifier)
	}
	return s.repo.Users().GetByEmail(ctx, identifier)
}

func (s *Auther) issueSession(ctx context.Context, user *User) (*LoginResult, error) {
	resolution, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccess(user.ID.String(), resolution.RoleName, resolution.Permissions)
	if err != nil {
		return nil, err
	}

	refresh, err := s.tokens.IssueRefresh(user.ID.String())
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Save(ctx, user.ID, refresh, s.now().Add(s.refreshTTL())); err != nil {
		return nil, err
	}

	return &LoginResult{
		UserID:      user.ID.String(),
		Tokens:      TokenPair{AccessToken: access, RefreshToken: refresh},
		Role:        resolution.RoleName,
		Permissions: resolution.Permissions,
	}, nil
}

func (s *Auther) refreshTTL() time.Duration {
	if s.cfg.RefreshTokenTTL > 0 {
		return s.cfg.RefreshTokenTTL
	}
	return 7 * 24 * time.Hour
}

func (s *Auther) emitLoginFailure(ctx context.Context, userID, identifier, reason string) {
	actor := ActorRef{Type: "unknown"}
	if userID != "" {
		actor = ActorRef{ID: userID, Type: "user"}
	}
	s.emitAuthEvent(ctx, ActivityEventLoginFailure, actor, userID, map[string]any{
		"identifier": identifier,
		"reason":     reason,
	})
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.sink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}
