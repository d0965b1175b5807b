package identity

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// RegisterPayload carries a password-mode registration request. Exactly one
// of Email or Phone is the primary identifier, selected by Channel.
type RegisterPayload struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone"`
	Password  string  `json:"password"`
	Channel   Channel `json:"channel"`
	RoleName  string  `json:"role"`
}

// Validate checks the payload shape. Channel-specific identifier presence is
// enforced here so the orchestrator only sees well-formed requests.
func (r RegisterPayload) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		rules := []*validation.FieldRules{
			validation.Field(&r.Channel, validation.Required, validation.In(ChannelEmail, ChannelPhone)),
			validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
			validation.Field(&r.RoleName, validation.Required),
			validation.Field(&r.FirstName, validation.Length(0, 200)),
			validation.Field(&r.LastName, validation.Length(0, 200)),
		}
		if r.Channel == ChannelPhone {
			rules = append(rules, validation.Field(&r.Phone, validation.Required))
		} else {
			rules = append(rules, validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email))
		}
		return validation.ValidateStruct(&r, rules...)
	}, "Invalid registration payload")
}

// FederatedRegisterPayload carries a federated registration: identity
// established by an external provider, no password ever.
type FederatedRegisterPayload struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	RoleName   string `json:"role"`
}

// Validate checks the payload shape.
func (r FederatedRegisterPayload) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.ExternalID, validation.Required),
			validation.Field(&r.Email, is.Email),
			validation.Field(&r.RoleName, validation.Required),
		)
	}, "Invalid federated registration payload")
}

// LoginPayload carries a password login attempt.
type LoginPayload struct {
	Identifier string  `json:"identifier"`
	Password   string  `json:"password"`
	Channel    Channel `json:"channel"`
}

// Validate checks the payload shape.
func (r LoginPayload) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Identifier, validation.Required),
			validation.Field(&r.Password, validation.Required),
			validation.Field(&r.Channel, validation.Required, validation.In(ChannelEmail, ChannelPhone)),
		)
	}, "Invalid login payload")
}

// VerifyOTPPayload carries a code-verification attempt.
type VerifyOTPPayload struct {
	UserID  string  `json:"user_id"`
	Code    string  `json:"code"`
	Channel Channel `json:"channel"`
}

// Validate checks the payload shape.
func (r VerifyOTPPayload) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.UserID, validation.Required, is.UUID),
			validation.Field(&r.Code, validation.Required, validation.Length(OTPCodeLength, OTPCodeLength), is.Digit),
			validation.Field(&r.Channel, validation.Required, validation.In(ChannelEmail, ChannelPhone)),
		)
	}, "Invalid verification payload")
}

// ResetPasswordPayload carries a code-backed password reset: the code issued
// by RequestPasswordReset proves control of the channel.
type ResetPasswordPayload struct {
	UserID      string  `json:"user_id"`
	Code        string  `json:"code"`
	Channel     Channel `json:"channel"`
	NewPassword string  `json:"new_password"`
}

// Validate checks the payload shape.
func (r ResetPasswordPayload) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.UserID, validation.Required, is.UUID),
			validation.Field(&r.Code, validation.Required, validation.Length(OTPCodeLength, OTPCodeLength), is.Digit),
			validation.Field(&r.Channel, validation.Required, validation.In(ChannelEmail, ChannelPhone)),
			validation.Field(&r.NewPassword, validation.Required, validation.Length(10, 100)),
		)
	}, "Invalid password reset payload")
}

// ChangePasswordPayload carries a password change for an authenticated
// principal.
type ChangePasswordPayload struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

// Validate checks the payload shape.
func (r ChangePasswordPayload) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Current, validation.Required),
			validation.Field(&r.New, validation.Required, validation.Length(10, 100)),
		)
	}, "Invalid password change payload")
}

// NormalizePhone parses a phone number and renders it in E.164 so phone
// identifiers are stored and compared in one canonical form.
func NormalizePhone(number, defaultRegion string) (string, error) {
	if defaultRegion == "" {
		defaultRegion = "US"
	}

	parsed, err := phonenumbers.Parse(number, defaultRegion)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number").
			WithCode(goerrors.CodeBadRequest)
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return "", goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
