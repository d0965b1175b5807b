package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Logger is the minimal logging surface the package depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Notifier delivers one-time codes over an out-of-band channel. Dispatch is
// fire-and-forget from the core's perspective: failures are logged and the
// OTP record stays persisted so the caller can request a resend.
type Notifier interface {
	SendEmail(ctx context.Context, address, code string) error
	SendSMS(ctx context.Context, number, code string) error
}

// NotifierFunc pair adapts plain functions into a Notifier.
type NotifierFuncs struct {
	Email func(ctx context.Context, address, code string) error
	SMS   func(ctx context.Context, number, code string) error
}

func (n NotifierFuncs) SendEmail(ctx context.Context, address, code string) error {
	if n.Email == nil {
		return nil
	}
	return n.Email(ctx, address, code)
}

func (n NotifierFuncs) SendSMS(ctx context.Context, number, code string) error {
	if n.SMS == nil {
		return nil
	}
	return n.SMS(ctx, number, code)
}

type noopNotifier struct{}

func (noopNotifier) SendEmail(context.Context, string, string) error { return nil }
func (noopNotifier) SendSMS(context.Context, string, string) error   { return nil }

// Config holds the options every component needs. It is constructed once at
// process start and passed by injection; there is no ambient environment
// lookup inside business logic.
type Config struct {
	AccessSigningKey  string        `env:"IDENTITY_ACCESS_SIGNING_KEY"`
	RefreshSigningKey string        `env:"IDENTITY_REFRESH_SIGNING_KEY"`
	Issuer            string        `env:"IDENTITY_ISSUER" envDefault:"go-identity"`
	Audience          []string      `env:"IDENTITY_AUDIENCE" envSeparator:","`
	AccessTokenTTL    time.Duration `env:"IDENTITY_ACCESS_TOKEN_TTL" envDefault:"24h"`
	RefreshTokenTTL   time.Duration `env:"IDENTITY_REFRESH_TOKEN_TTL" envDefault:"168h"`
	OTPTTL            time.Duration `env:"IDENTITY_OTP_TTL" envDefault:"10m"`
	PhoneRegion       string        `env:"IDENTITY_PHONE_REGION" envDefault:"US"`
}

// NewConfigFromEnv parses Config from environment variables.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports missing required settings. The two signing keys must
// differ so refresh-token compromise cannot forge access claims.
func (c Config) Validate() error {
	if c.AccessSigningKey == "" {
		return fmt.Errorf("access signing key is required")
	}
	if c.RefreshSigningKey == "" {
		return fmt.Errorf("refresh signing key is required")
	}
	if c.AccessSigningKey == c.RefreshSigningKey {
		return fmt.Errorf("access and refresh signing keys must differ")
	}
	return nil
}

// TokenPair is the credential pair handed back after a successful
// authentication or rotation.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult is what the orchestrator returns for login-class operations.
// When RequiresOTP is set no password check was performed and no tokens were
// issued; the caller should drive the verification flow.
type LoginResult struct {
	RequiresOTP bool      `json:"requires_otp"`
	Channel     Channel   `json:"channel,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Tokens      TokenPair `json:"tokens,omitempty"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
