package identity

import (
	"context"
	"database/sql"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OTPs persists one-time verification codes.
type OTPs interface {
	Create(ctx context.Context, record *OTP) (*OTP, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *OTP) (*OTP, error)
	// LatestUnverified returns the most recent unverified record for the
	// (user, channel) pair, or ErrOTPNotFound.
	LatestUnverified(ctx context.Context, userID uuid.UUID, channel Channel) (*OTP, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteUnverified(ctx context.Context, userID uuid.UUID, channel Channel) error
	DeleteUnverifiedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, channel Channel) error
}

type otps struct {
	db *bun.DB
}

// NewOTPsRepository creates a Bun-backed OTPs repository.
func NewOTPsRepository(db *bun.DB) OTPs {
	return &otps{db: db}
}

func (r *otps) Create(ctx context.Context, record *OTP) (*OTP, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *otps) CreateTx(ctx context.Context, tx bun.IDB, record *OTP) (*OTP, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist verification code")
	}
	return record, nil
}

func (r *otps) LatestUnverified(ctx context.Context, userID uuid.UUID, channel Channel) (*OTP, error) {
	record := &OTP{}
	err := r.db.NewSelect().
		Model(record).
		Where("otp.user_id = ? AND otp.channel = ? AND otp.verified = ?", userID, channel, false).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, annotate(ErrOTPNotFound, map[string]any{
				"user_id": userID.String(),
				"channel": channel,
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load verification code")
	}
	return record, nil
}

func (r *otps) MarkVerified(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*OTP)(nil)).
		Set("verified = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark verification code verified")
	}
	return nil
}

func (r *otps) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*OTP)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete verification code")
	}
	return nil
}

func (r *otps) DeleteUnverified(ctx context.Context, userID uuid.UUID, channel Channel) error {
	return r.DeleteUnverifiedTx(ctx, r.db, userID, channel)
}

func (r *otps) DeleteUnverifiedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, channel Channel) error {
	_, err := tx.NewDelete().
		Model((*OTP)(nil)).
		Where("user_id = ? AND channel = ? AND verified = ?", userID, channel, false).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to invalidate prior verification codes")
	}
	return nil
}
