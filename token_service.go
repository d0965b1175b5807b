package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService mints and verifies the signed access/refresh token pair.
type TokenService interface {
	IssueAccess(userID, roleName string, permissionNames []string) (string, error)
	IssueRefresh(userID string) (string, error)
	ValidateAccess(token string) (*AccessClaims, error)
	ValidateRefresh(token string) (*RefreshClaims, error)
}

// TokenServiceImpl implements TokenService with HMAC signing. Access and
// refresh tokens use separate keys so refresh-token compromise cannot be
// used to forge access claims.
type TokenServiceImpl struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
}

// NewTokenService creates a new TokenService instance from the shared Config.
func NewTokenService(cfg Config, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		accessKey:  []byte(cfg.AccessSigningKey),
		refreshKey: []byte(cfg.RefreshSigningKey),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		issuer:     cfg.Issuer,
		audience:   jwt.ClaimStrings(cfg.Audience),
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (ts *TokenServiceImpl) WithClock(clock func() time.Time) *TokenServiceImpl {
	if clock != nil {
		ts.now = clock
	}
	return ts
}

// IssueAccess mints an access token whose claims embed the principal id,
// role name, and full permission-name list.
func (ts *TokenServiceImpl) IssueAccess(userID, roleName string, permissionNames []string) (string, error) {
	now := ts.now()
	claims := &AccessClaims{
		RegisteredClaims: ts.registered(userID, now, ts.accessTTL),
		UID:              userID,
		UserRole:         roleName,
		Perms:            permissionNames,
	}

	return ts.sign(claims, ts.accessKey)
}

// IssueRefresh mints a refresh token carrying only the principal id.
func (ts *TokenServiceImpl) IssueRefresh(userID string) (string, error) {
	now := ts.now()
	claims := &RefreshClaims{
		RegisteredClaims: ts.registered(userID, now, ts.refreshTTL),
		UID:              userID,
	}

	return ts.sign(claims, ts.refreshKey)
}

// ValidateAccess parses and verifies an access token, distinguishing
// expiry from structural/signature failure.
func (ts *TokenServiceImpl) ValidateAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.validate(token, claims, ts.accessKey); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateRefresh parses and verifies a refresh token against the refresh
// signing key.
func (ts *TokenServiceImpl) ValidateRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := ts.validate(token, claims, ts.refreshKey); err != nil {
		return nil, err
	}
	return claims, nil
}

func (ts *TokenServiceImpl) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    ts.issuer,
		Subject:   subject,
		Audience:  aud,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (ts *TokenServiceImpl) sign(claims jwt.Claims, key []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(key)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

func (ts *TokenServiceImpl) validate(tokenString string, claims jwt.Claims, key []byte) error {
	parserOptions := make([]jwt.ParserOption, 0, 3)
	parserOptions = append(parserOptions, jwt.WithTimeFunc(ts.now))
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	// jwt.WithAudience checks a single expected audience; issuance always
	// embeds the full configured list, so the first entry is enough.
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token service encountered unexpected signing method alg=%v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return annotate(ErrTokenInvalid, map[string]any{
			"cause": err.Error(),
		})
	}

	if !token.Valid {
		ts.logger.Error("token service could not validate claims")
		return ErrTokenInvalid
	}

	return nil
}
