package identity

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeTokenExpired       = "TOKEN_EXPIRED"
	textCodeTokenInvalid       = "TOKEN_INVALID"
	textCodeOTPExpired         = "OTP_EXPIRED"
	textCodeOTPMismatch        = "OTP_MISMATCH"
	textCodeIntegrityFault     = "INTEGRITY_FAULT"
	textCodeRoleInUse          = "ROLE_IN_USE"
)

// ErrInvalidCredentials is the single generic class every identifier-lookup
// failure, password mismatch, and inactive-account login collapses into at
// the external boundary, so responses never leak whether an account exists.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailTaken is returned when a registration or profile update would
// violate email uniqueness.
var ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrPhoneTaken is returned when a registration or profile update would
// violate phone uniqueness.
var ErrPhoneTaken = goerrors.New("phone number already registered", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrExternalIDTaken is returned when a federated registration reuses an
// external identity id.
var ErrExternalIDTaken = goerrors.New("external identity already registered", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrRoleExists is returned when creating a role with a duplicate name.
var ErrRoleExists = goerrors.New("role name already exists", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrPermissionExists is returned when creating a permission with a
// duplicate name.
var ErrPermissionExists = goerrors.New("permission name already exists", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrPermissionAttached is returned when attaching a (role, permission)
// pair that already exists. The association stays single-edged.
var ErrPermissionAttached = goerrors.New("permission already attached to role", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrRoleInUse blocks role deletion while accounts still reference the role,
// so the reference can never dangle.
var ErrRoleInUse = goerrors.New("role is referenced by existing accounts", goerrors.CategoryConflict).
	WithTextCode(textCodeRoleInUse).
	WithCode(goerrors.CodeConflict)

// ErrRoleNotFound is returned by administrative role lookups. Never used on
// login paths.
var ErrRoleNotFound = goerrors.New("role not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrPermissionNotFound is returned by administrative permission lookups.
var ErrPermissionNotFound = goerrors.New("permission not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUserNotFound is returned by administrative account lookups. Never used
// on login paths.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrOTPNotFound means no live unverified code exists for the
// (principal, channel) pair.
var ErrOTPNotFound = goerrors.New("no verification code pending", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrOTPExpired means the pending code aged past its window. The record is
// deleted as a side effect so a stale code can never be replayed later.
var ErrOTPExpired = goerrors.New("verification code expired", goerrors.CategoryAuth).
	WithTextCode(textCodeOTPExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrOTPMismatch means the submitted code did not match. The record stays
// live so the principal can retry until the expiry window closes.
var ErrOTPMismatch = goerrors.New("verification code mismatch", goerrors.CategoryAuth).
	WithTextCode(textCodeOTPMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired means a token verified cryptographically but is past its
// validity. Callers react by prompting a refresh or re-login.
var ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalid covers signature/structure failures and replay detection:
// a refresh token that verifies but has no stored session record was already
// rotated (or the session table was wiped) and must be rejected outright.
var ErrTokenInvalid = goerrors.New("token invalid", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrRoleReferenceDangling is the integrity fault raised when a principal's
// role reference resolves to nothing. Under the RESTRICT delete policy this
// must not happen; the resolver refuses to guess rather than silently
// granting zero or all permissions.
var ErrRoleReferenceDangling = goerrors.New("account references a missing role", goerrors.CategoryInternal).
	WithTextCode(textCodeIntegrityFault).
	WithCode(goerrors.CodeInternal)

// ErrFederatedNoPassword is returned when a password operation targets a
// federated account. Federated accounts never carry a hash.
var ErrFederatedNoPassword = goerrors.New("federated accounts have no password", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrChannelVerified is returned when a verification code is requested for a
// channel that is already verified.
var ErrChannelVerified = goerrors.New("channel already verified", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrPasswordMismatch is the internal signal for a failed bcrypt comparison.
// The orchestrator maps it onto ErrInvalidCredentials before it crosses the
// boundary.
var ErrPasswordMismatch = goerrors.New("password and hash do not match", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// annotate returns a copy of a sentinel carrying call-site metadata. The
// sentinels are shared package state and WithMetadata mutates its receiver,
// so metadata always goes on a clone. The clone keeps the sentinel as its
// source so errors.Is identity holds.
func annotate(sentinel *goerrors.Error, meta map[string]any) *goerrors.Error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel
	return clone.WithMetadata(meta)
}

// IsConflict reports whether err belongs to the uniqueness-violation class.
func IsConflict(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == goerrors.CategoryConflict
}

// IsUnauthorized reports whether err belongs to the credential-failure class.
func IsUnauthorized(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == goerrors.CategoryAuth
}

// IsIntegrityFault reports whether err is an integrity failure such as a
// dangling role reference.
func IsIntegrityFault(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCodeIntegrityFault
}
