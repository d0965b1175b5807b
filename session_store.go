package identity

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RotationResult is handed back after a successful refresh-token rotation.
// Authorization is re-resolved fresh during rotation, so role or permission
// changes since the original login take effect here.
type RotationResult struct {
	UserID      uuid.UUID
	Tokens      TokenPair
	Role        string
	Permissions []string
}

// SessionStore persists refresh-token records and enforces single-use
// rotation.
type SessionStore struct {
	db       *bun.DB
	repo     RefreshTokens
	tokens   TokenService
	resolver *Resolver
	ttl      time.Duration
	logger   Logger
	sink     ActivitySink
	now      func() time.Time
}

// NewSessionStore creates the session store.
func NewSessionStore(db *bun.DB, repo RefreshTokens, tokens TokenService, resolver *Resolver, cfg Config) *SessionStore {
	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &SessionStore{
		db:       db,
		repo:     repo,
		tokens:   tokens,
		resolver: resolver,
		ttl:      ttl,
		logger:   defLogger{},
		sink:     noopActivitySink{},
		now:      time.Now,
	}
}

// WithLogger overrides the store logger.
func (s *SessionStore) WithLogger(logger Logger) *SessionStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for rotation/replay events.
func (s *SessionStore) WithActivitySink(sink ActivitySink) *SessionStore {
	s.sink = normalizeActivitySink(sink)
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *SessionStore) WithClock(clock func() time.Time) *SessionStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Save persists a new refresh-session record.
func (s *SessionStore) Save(ctx context.Context, userID uuid.UUID, token string, expiry time.Time) error {
	_, err := s.repo.Save(ctx, &RefreshToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiry,
	})
	return err
}

// Rotate exchanges a refresh token for a fresh access/refresh pair. The
// check-then-delete-then-insert sequence runs as one transaction: the old
// token is never valid once rotation begins, and a concurrent rotation that
// loses the race on the delete fails as replay instead of silently
// double-spending.
func (s *SessionStore) Rotate(ctx context.Context, oldToken string) (*RotationResult, error) {
	claims, err := s.tokens.ValidateRefresh(oldToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			// Expiry detected during use: drop the stored record so it
			// cannot accumulate or be retried.
			if _, delErr := s.repo.DeleteByToken(ctx, oldToken); delErr != nil {
				s.logger.Warn("failed to delete expired refresh session: %v", delErr)
			}
		}
		return nil, err
	}

	userID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, annotate(ErrTokenInvalid, map[string]any{
			"cause": "refresh subject is not a valid id",
		})
	}

	result := &RotationResult{UserID: userID}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		stored, err := s.repo.GetByTokenTx(ctx, tx, oldToken)
		if err != nil {
			if errors.Is(err, ErrTokenInvalid) {
				// Cryptographically valid but unknown to the store: the
				// token was already rotated. This is the replay path.
				s.recordActivity(ctx, ActivityEvent{
					EventType: ActivityEventTokenReplay,
					UserID:    userID.String(),
				})
			}
			return err
		}

		if s.now().After(stored.ExpiresAt) {
			return ErrTokenExpired
		}

		deleted, err := s.repo.DeleteByTokenTx(ctx, tx, oldToken)
		if err != nil {
			return err
		}
		if !deleted {
			// A concurrent rotation consumed the record first.
			s.recordActivity(ctx, ActivityEvent{
				EventType: ActivityEventTokenReplay,
				UserID:    userID.String(),
			})
			return ErrTokenInvalid
		}

		resolution, err := s.resolver.ResolveTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		access, err := s.tokens.IssueAccess(userID.String(), resolution.RoleName, resolution.Permissions)
		if err != nil {
			return err
		}
		refresh, err := s.tokens.IssueRefresh(userID.String())
		if err != nil {
			return err
		}

		if _, err := s.repo.SaveTx(ctx, tx, &RefreshToken{
			UserID:    userID,
			Token:     refresh,
			ExpiresAt: s.now().Add(s.ttl),
		}); err != nil {
			return err
		}

		result.Tokens = TokenPair{AccessToken: access, RefreshToken: refresh}
		result.Role = resolution.RoleName
		result.Permissions = resolution.Permissions
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			// The rollback restored the record; drop it outside the
			// transaction so the expired token cannot be retried.
			if _, delErr := s.repo.DeleteByToken(ctx, oldToken); delErr != nil {
				s.logger.Warn("failed to delete expired refresh session: %v", delErr)
			}
		}
		var rich *goerrors.Error
		if goerrors.As(err, &rich) {
			return nil, rich
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "refresh rotation transaction failed")
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventTokenRotated,
		UserID:    userID.String(),
	})

	return result, nil
}

// Revoke deletes the matching record. Absence is not an error: logout is
// idempotent.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	_, err := s.repo.DeleteByToken(ctx, token)
	return err
}

// RevokeAll deletes every record for the principal, forcing
// re-authentication everywhere. Used on password change.
func (s *SessionStore) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUser(ctx, userID)
}

func (s *SessionStore) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if err := normalizeActivitySink(s.sink).Record(ctx, event); err != nil {
		s.logger.Warn("session store activity sink error: %v", err)
	}
}
