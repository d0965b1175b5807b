package identity

import (
	"context"
	"database/sql"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Resolution is a principal's effective authorization snapshot.
type Resolution struct {
	RoleName    string
	Permissions []string
}

// AuthorizationResolver computes a principal's effective permission set from
// their single assigned role.
type AuthorizationResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*Resolution, error)
}

// Resolver is the Bun-backed AuthorizationResolver. There is no in-process
// caching: every token issuance re-reads the role-permission graph so
// administrative changes take effect on the next issuance.
type Resolver struct {
	db bun.IDB
}

// NewResolver creates a resolver over the given database handle.
func NewResolver(db bun.IDB) *Resolver {
	return &Resolver{db: db}
}

// Resolve loads the principal's role and the full permission set attached to
// it. A dangling role reference is an integrity fault: the resolver refuses
// to guess rather than granting zero or all permissions.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (*Resolution, error) {
	return r.ResolveTx(ctx, r.db, userID)
}

// ResolveTx is Resolve bound to an explicit transaction, used by the session
// store so rotation re-resolves inside its own transaction.
func (r *Resolver) ResolveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*Resolution, error) {
	user := &User{}
	err := tx.NewSelect().
		Model(user).
		Column("usr.role_id").
		Where("usr.id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, annotate(ErrUserNotFound, map[string]any{
				"user_id": userID.String(),
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load principal for resolution")
	}

	role := &Role{}
	err = tx.NewSelect().
		Model(role).
		Where("rol.id = ?", user.RoleID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, annotate(ErrRoleReferenceDangling, map[string]any{
				"user_id": userID.String(),
				"role_id": user.RoleID.String(),
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load role for resolution")
	}

	var names []string
	err = tx.NewSelect().
		Model((*Permission)(nil)).
		Column("perm.name").
		Join("JOIN role_permissions AS rp ON rp.permission_id = perm.id").
		Where("rp.role_id = ?", role.ID).
		Scan(ctx, &names)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load role permissions")
	}

	return &Resolution{
		RoleName:    role.Name,
		Permissions: names,
	}, nil
}
