package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStatus is the account lifecycle status.
type UserStatus = string

const (
	// UserStatusPending awaits channel verification.
	UserStatusPending UserStatus = "pending"
	// UserStatusActive can authenticate.
	UserStatusActive UserStatus = "active"
	// UserStatusInactive is administratively suspended.
	UserStatusInactive UserStatus = "inactive"
)

// AuthMode discriminates how an account authenticates. It is the tagged
// variant behind the password-optional model: password modes carry a hash,
// federated mode carries an external id and never a hash.
type AuthMode = string

const (
	AuthModePasswordEmail AuthMode = "password-email"
	AuthModePasswordPhone AuthMode = "password-phone"
	AuthModeFederated     AuthMode = "federated"
)

// Channel is the verification/authentication medium.
type Channel = string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// User is the principal model.
type User struct {
	bun.BaseModel   `bun:"table:users,alias:usr"`
	ID              uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email           string     `bun:"email,nullzero,unique" json:"email,omitempty"`
	Phone           string     `bun:"phone_number,nullzero,unique" json:"phone_number,omitempty"`
	ExternalID      string     `bun:"external_id,nullzero,unique" json:"external_id,omitempty"`
	AuthMode        AuthMode   `bun:"auth_mode,notnull" json:"auth_mode,omitempty"`
	PasswordHash    string     `bun:"password_hash,nullzero" json:"-"`
	FirstName       string     `bun:"first_name" json:"first_name,omitempty"`
	LastName        string     `bun:"last_name" json:"last_name,omitempty"`
	ProfilePicture  string     `bun:"profile_picture,nullzero" json:"profile_picture,omitempty"`
	Status          UserStatus `bun:"status,notnull" json:"status,omitempty"`
	EmailVerified   bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	PhoneVerified   bool       `bun:"is_phone_verified" json:"is_phone_verified,omitempty"`
	PasswordChanged bool       `bun:"password_changed" json:"password_changed,omitempty"`
	RoleID          uuid.UUID  `bun:"role_id,notnull,type:uuid" json:"role_id,omitempty"`
	Role            *Role      `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
	CreatedAt       *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt       *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// NewPasswordUser builds a pending password-mode principal. The channel
// picks the primary identifier; the caller supplies an already-hashed
// password.
func NewPasswordUser(channel Channel, identifier, passwordHash string, roleID uuid.UUID) *User {
	u := &User{
		ID:           uuid.New(),
		PasswordHash: passwordHash,
		RoleID:       roleID,
		Status:       UserStatusPending,
	}
	if channel == ChannelPhone {
		u.Phone = identifier
		u.AuthMode = AuthModePasswordPhone
	} else {
		u.Email = identifier
		u.AuthMode = AuthModePasswordEmail
	}
	return u
}

// NewFederatedUser builds an active federated principal. Federated accounts
// are auto-verified, never carry a password hash, and their external id is
// immutable once set.
func NewFederatedUser(externalID, email string, roleID uuid.UUID) *User {
	return &User{
		ID:            uuid.New(),
		ExternalID:    externalID,
		Email:         email,
		AuthMode:      AuthModeFederated,
		RoleID:        roleID,
		Status:        UserStatusActive,
		EmailVerified: true,
	}
}

// EnsureStatus backfills the zero value so legacy rows behave like pending
// accounts.
func (u *User) EnsureStatus() {
	if u.Status == "" {
		u.Status = UserStatusPending
	}
}

// IsFederated reports whether the account authenticates through an external
// identity provider.
func (u *User) IsFederated() bool {
	return u.AuthMode == AuthModeFederated
}

// VerifiedOn reports whether the given channel has been verified.
func (u *User) VerifiedOn(channel Channel) bool {
	switch channel {
	case ChannelPhone:
		return u.PhoneVerified
	default:
		return u.EmailVerified
	}
}

// IdentifierFor returns the channel-appropriate primary identifier.
func (u *User) IdentifierFor(channel Channel) string {
	if channel == ChannelPhone {
		return u.Phone
	}
	return u.Email
}

// PrimaryChannel derives the verification channel from the auth mode.
func (u *User) PrimaryChannel() Channel {
	if u.AuthMode == AuthModePasswordPhone {
		return ChannelPhone
	}
	return ChannelEmail
}

// Role is a named authorization bucket. Exactly one role per account.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	ID            uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string        `bun:"name,notnull,unique" json:"name,omitempty"`
	Description   string        `bun:"description" json:"description,omitempty"`
	Permissions   []*Permission `bun:"m2m:role_permissions,join:Role=Permission" json:"permissions,omitempty"`
	CreatedAt     *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Permission is a named capability atom.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull,unique" json:"name,omitempty"`
	Description   string     `bun:"description" json:"description,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// RolePermission is the many-to-many edge between Role and Permission. A
// given pair appears at most once.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`
	RoleID        uuid.UUID   `bun:"role_id,pk,type:uuid" json:"role_id,omitempty"`
	Role          *Role       `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
	PermissionID  uuid.UUID   `bun:"permission_id,pk,type:uuid" json:"permission_id,omitempty"`
	Permission    *Permission `bun:"rel:belongs-to,join:permission_id=id" json:"permission,omitempty"`
}

// RefreshToken is one active, not-yet-expired refresh credential. Exactly
// one record per issued refresh token; rotation deletes the old record and
// creates the new one in the same transaction.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rft"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// OTP is a one-time verification code. At most one unverified record per
// (user, channel) pair is live at a time.
type OTP struct {
	bun.BaseModel `bun:"table:otps,alias:otp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Code          string     `bun:"code,notnull" json:"-"`
	Channel       Channel    `bun:"channel,notnull" json:"channel,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	Verified      bool       `bun:"verified" json:"verified,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// IsExpired reports whether the code is past its validity window.
func (o *OTP) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
