package identity

import (
	"context"
	"database/sql"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Roles manages the role/permission graph. Role deletion is RESTRICT: a role
// referenced by accounts cannot be removed, so account role references never
// dangle.
type Roles interface {
	Create(ctx context.Context, role *Role) (*Role, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	Update(ctx context.Context, role *Role) (*Role, error)
	Delete(ctx context.Context, id uuid.UUID) error

	CreatePermission(ctx context.Context, permission *Permission) (*Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	AttachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	DetachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	ListPermissions(ctx context.Context, roleID uuid.UUID) ([]*Permission, error)
}

type roles struct {
	db *bun.DB
}

// NewRolesRepository creates a Bun-backed Roles repository.
func NewRolesRepository(db *bun.DB) Roles {
	return &roles{db: db}
}

func (r *roles) Create(ctx context.Context, role *Role) (*Role, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}

	// Uniqueness is checked before any write so a duplicate name fails with
	// a Conflict and never a partial insert.
	exists, err := r.db.NewSelect().
		Model((*Role)(nil)).
		Where("rol.name = ?", role.Name).
		Exists(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check role name uniqueness")
	}
	if exists {
		return nil, annotate(ErrRoleExists, map[string]any{"name": role.Name})
	}

	if _, err := r.db.NewInsert().Model(role).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create role")
	}

	return role, nil
}

func (r *roles) GetByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	role := &Role{}
	err := r.db.NewSelect().
		Model(role).
		Where("rol.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, annotate(ErrRoleNotFound, map[string]any{"id": id.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load role")
	}
	return role, nil
}

func (r *roles) GetByName(ctx context.Context, name string) (*Role, error) {
	role := &Role{}
	err := r.db.NewSelect().
		Model(role).
		Where("rol.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, annotate(ErrRoleNotFound, map[string]any{"name": name})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load role")
	}
	return role, nil
}

func (r *roles) Update(ctx context.Context, role *Role) (*Role, error) {
	res, err := r.db.NewUpdate().
		Model(role).
		Column("name", "description").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update role")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, annotate(ErrRoleNotFound, map[string]any{"id": role.ID.String()})
	}
	return role, nil
}

// Delete removes a role and its permission edges. It fails with ErrRoleInUse
// while any account references the role.
func (r *roles) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		referenced, err := tx.NewSelect().
			Model((*User)(nil)).
			Where("usr.role_id = ?", id).
			Exists(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check role references")
		}
		if referenced {
			return annotate(ErrRoleInUse, map[string]any{"id": id.String()})
		}

		if _, err := tx.NewDelete().
			Model((*RolePermission)(nil)).
			Where("role_id = ?", id).
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete role permission edges")
		}

		res, err := tx.NewDelete().
			Model((*Role)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete role")
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return annotate(ErrRoleNotFound, map[string]any{"id": id.String()})
		}
		return nil
	})
}

func (r *roles) CreatePermission(ctx context.Context, permission *Permission) (*Permission, error) {
	if permission.ID == uuid.Nil {
		permission.ID = uuid.New()
	}

	exists, err := r.db.NewSelect().
		Model((*Permission)(nil)).
		Where("perm.name = ?", permission.Name).
		Exists(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check permission name uniqueness")
	}
	if exists {
		return nil, annotate(ErrPermissionExists, map[string]any{"name": permission.Name})
	}

	if _, err := r.db.NewInsert().Model(permission).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create permission")
	}

	return permission, nil
}

func (r *roles) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	permission := &Permission{}
	err := r.db.NewSelect().
		Model(permission).
		Where("perm.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, annotate(ErrPermissionNotFound, map[string]any{"name": name})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load permission")
	}
	return permission, nil
}

// AttachPermission adds a (role, permission) edge. Attaching an existing
// edge fails with a Conflict instead of silently duplicating the row.
func (r *roles) AttachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	exists, err := r.db.NewSelect().
		Model((*RolePermission)(nil)).
		Where("rp.role_id = ? AND rp.permission_id = ?", roleID, permissionID).
		Exists(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check role permission edge")
	}
	if exists {
		return annotate(ErrPermissionAttached, map[string]any{
			"role_id":       roleID.String(),
			"permission_id": permissionID.String(),
		})
	}

	edge := &RolePermission{RoleID: roleID, PermissionID: permissionID}
	if _, err := r.db.NewInsert().Model(edge).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to attach permission")
	}
	return nil
}

func (r *roles) DetachPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*RolePermission)(nil)).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to detach permission")
	}
	return nil
}

func (r *roles) ListPermissions(ctx context.Context, roleID uuid.UUID) ([]*Permission, error) {
	var permissions []*Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Join("JOIN role_permissions AS rp ON rp.permission_id = perm.id").
		Where("rp.role_id = ?", roleID).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list role permissions")
	}
	return permissions, nil
}
