package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims is the read surface resource servers use after verifying an
// access token. Authorization checks are stateless: the permission list was
// embedded at issuance time.
type AuthClaims interface {
	Subject() string
	UserID() string
	Role() string
	Permissions() []string
	HasPermission(name string) bool
	HasRole(role string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// AccessClaims is the concrete access-token claim set: principal id, role
// name, and the flat permission-name list.
type AccessClaims struct {
	jwt.RegisteredClaims
	UID      string   `json:"uid,omitempty"`
	UserRole string   `json:"role,omitempty"`
	Perms    []string `json:"perms,omitempty"`
}

var _ AuthClaims = (*AccessClaims)(nil)

// Subject returns the subject claim.
func (c *AccessClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the principal id.
func (c *AccessClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Role returns the role name embedded at issuance.
func (c *AccessClaims) Role() string {
	return c.UserRole
}

// Permissions returns the embedded permission-name list. Order is not
// significant.
func (c *AccessClaims) Permissions() []string {
	return c.Perms
}

// HasPermission checks the embedded permission list.
func (c *AccessClaims) HasPermission(name string) bool {
	for _, p := range c.Perms {
		if p == name {
			return true
		}
	}
	return false
}

// HasRole checks the embedded role name.
func (c *AccessClaims) HasRole(role string) bool {
	return c.UserRole == role
}

// Expires returns the expiration time.
func (c *AccessClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time.
func (c *AccessClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// RefreshClaims is the refresh-token claim set. It deliberately carries only
// the principal id: refresh tokens are opaque to the holder beyond their
// validity window and grant nothing by themselves.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UID string `json:"uid,omitempty"`
}

// UserID returns the principal id.
func (c *RefreshClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}
