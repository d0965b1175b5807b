package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RefreshTokens persists refresh-session records. All mutating methods have
// a Tx variant so the session store can run rotation as one transaction.
type RefreshTokens interface {
	Save(ctx context.Context, record *RefreshToken) (*RefreshToken, error)
	SaveTx(ctx context.Context, tx bun.IDB, record *RefreshToken) (*RefreshToken, error)
	GetByToken(ctx context.Context, token string) (*RefreshToken, error)
	GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*RefreshToken, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) (bool, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type refreshTokens struct {
	db *bun.DB
}

// NewRefreshTokensRepository creates a Bun-backed RefreshTokens repository.
func NewRefreshTokensRepository(db *bun.DB) RefreshTokens {
	return &refreshTokens{db: db}
}

func (r *refreshTokens) Save(ctx context.Context, record *RefreshToken) (*RefreshToken, error) {
	return r.SaveTx(ctx, r.db, record)
}

func (r *refreshTokens) SaveTx(ctx context.Context, tx bun.IDB, record *RefreshToken) (*RefreshToken, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh session")
	}
	return record, nil
}

func (r *refreshTokens) GetByToken(ctx context.Context, token string) (*RefreshToken, error) {
	return r.GetByTokenTx(ctx, r.db, token)
}

func (r *refreshTokens) GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*RefreshToken, error) {
	record := &RefreshToken{}
	err := tx.NewSelect().
		Model(record).
		Where("rft.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load refresh session")
	}
	return record, nil
}

// DeleteByToken removes the record with the exact token value and reports
// whether a row was deleted. Rotation relies on the report: a concurrent
// rotation that lost the race observes false and must fail as replay.
func (r *refreshTokens) DeleteByToken(ctx context.Context, token string) (bool, error) {
	return r.DeleteByTokenTx(ctx, r.db, token)
}

func (r *refreshTokens) DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) (bool, error) {
	res, err := tx.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("token = ?", token).
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete refresh session")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read rows affected")
	}
	return affected > 0, nil
}

func (r *refreshTokens) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.DeleteByUserTx(ctx, r.db, userID)
}

func (r *refreshTokens) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete principal sessions")
	}
	return nil
}

// DeleteExpired sweeps records past the cutoff. Housekeeping only; expiry is
// also detected (and the record deleted) during use.
func (r *refreshTokens) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("expires_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sweep expired sessions")
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
