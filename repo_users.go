package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the principal repository.
type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	GetByUUID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	GetByExternalID(ctx context.Context, externalID string) (*User, error)

	// EnsureUnique checks email/phone/external-id uniqueness before any
	// write. Violations fail with the Conflict class, never a partial write.
	EnsureUnique(ctx context.Context, email, phone, externalID string) error

	UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status UserStatus) (*User, error)
	MarkChannelVerified(ctx context.Context, id uuid.UUID, channel Channel) error
	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) (*User, error)

	Suspend(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)
	Activate(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)
}

// ProfileUpdate is the explicit partial-update payload for profile fields.
// Only non-nil fields are written, and the set of writable fields is fixed
// at compile time.
type ProfileUpdate struct {
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
}

type users struct {
	repository.Repository[*User]
	db                  *bun.DB
	stateMachine        UserStateMachine
	stateMachineOptions []StateMachineOption
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

type UsersOption func(*users)

// NewUsersRepository creates the principal repository.
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

// WithUsersStateMachineOptions customizes the lazily built lifecycle machine.
func WithUsersStateMachineOptions(options ...StateMachineOption) UsersOption {
	return func(u *users) {
		if len(options) == 0 {
			return
		}
		u.stateMachineOptions = append(u.stateMachineOptions, options...)
		u.stateMachine = nil
	}
}

// WithUsersStateMachine injects a prebuilt lifecycle machine.
func WithUsersStateMachine(sm UserStateMachine) UsersOption {
	return func(u *users) {
		u.stateMachine = sm
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	return a.CreateTx(ctx, tx, user)
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record)
}

// GetByUUID looks up a principal by primary key. The embedded repository's
// GetByID takes the id as a string; this variant keeps uuid.UUID callers
// inside the package taxonomy (ErrUserNotFound on a miss).
func (a *users) GetByUUID(ctx context.Context, id uuid.UUID) (*User, error) {
	if id == uuid.Nil {
		return nil, ErrUserNotFound
	}
	return a.getByColumn(ctx, "id", id.String())
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.getByColumn(ctx, "email", email)
}

func (a *users) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return a.getByColumn(ctx, "phone_number", phone)
}

func (a *users) GetByExternalID(ctx context.Context, externalID string) (*User, error) {
	return a.getByColumn(ctx, "external_id", externalID)
}

func (a *users) getByColumn(ctx context.Context, column, value string) (*User, error) {
	if value == "" {
		return nil, ErrUserNotFound
	}

	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, annotate(ErrUserNotFound, map[string]any{
				"column": column,
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}
	return record, nil
}

func (a *users) EnsureUnique(ctx context.Context, email, phone, externalID string) error {
	check := func(column, value string, conflict error) error {
		if value == "" {
			return nil
		}
		exists, err := a.db.NewSelect().
			Model((*User)(nil)).
			Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
			Exists(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check identifier uniqueness")
		}
		if exists {
			return conflict
		}
		return nil
	}

	if err := check("email", email, ErrEmailTaken); err != nil {
		return err
	}
	if err := check("phone_number", phone, ErrPhoneTaken); err != nil {
		return err
	}
	return check("external_id", externalID, ErrExternalIDTaken)
}

func (a *users) UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status)
}

func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status UserStatus) (*User, error) {
	record := &User{
		ID:     id,
		Status: status,
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

func (a *users) MarkChannelVerified(ctx context.Context, id uuid.UUID, channel Channel) error {
	column := "is_email_verified"
	if channel == ChannelPhone {
		column = "is_phone_verified"
	}

	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set(column+" = ?", true).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark channel verified")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return annotate(ErrUserNotFound, map[string]any{"id": id.String()})
	}
	return nil
}

func (a *users) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.SetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("password_changed = ?", true).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store password hash")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return annotate(ErrUserNotFound, map[string]any{"id": id.String()})
	}
	return nil
}

func (a *users) UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) (*User, error) {
	q := a.db.NewUpdate().
		Model((*User)(nil)).
		Where("id = ?", id).
		Where("deleted_at IS NULL")

	touched := false
	if update.FirstName != nil {
		q = q.Set("first_name = ?", *update.FirstName)
		touched = true
	}
	if update.LastName != nil {
		q = q.Set("last_name = ?", *update.LastName)
		touched = true
	}
	if update.ProfilePicture != nil {
		q = q.Set("profile_picture = ?", *update.ProfilePicture)
		touched = true
	}

	if touched {
		res, err := q.Exec(ctx)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil, annotate(ErrUserNotFound, map[string]any{"id": id.String()})
		}
	}

	return a.GetByUUID(ctx, id)
}

func (a *users) Suspend(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	return a.lifecycleMachine().Transition(ctx, actor, user, UserStatusInactive, opts...)
}

// Activate moves a principal to active. It covers both initial verification
// (pending to active) and administrative reinstatement (inactive to active).
func (a *users) Activate(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	return a.lifecycleMachine().Transition(ctx, actor, user, UserStatusActive, opts...)
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.EnsureStatus()

	if record.AuthMode == "" {
		record.AuthMode = AuthModePasswordEmail
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func (a *users) lifecycleMachine() UserStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewUserStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}
