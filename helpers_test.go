package identity_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	identity "github.com/veridian/go-identity"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteCreateUsers = `CREATE TABLE users (
    id TEXT NOT NULL PRIMARY KEY,
    email TEXT UNIQUE,
    phone_number TEXT UNIQUE,
    external_id TEXT UNIQUE,
    auth_mode TEXT NOT NULL,
    password_hash TEXT,
    first_name TEXT,
    last_name TEXT,
    profile_picture TEXT,
    status TEXT NOT NULL,
    is_email_verified BOOLEAN NOT NULL DEFAULT FALSE,
    is_phone_verified BOOLEAN NOT NULL DEFAULT FALSE,
    password_changed BOOLEAN NOT NULL DEFAULT FALSE,
    role_id TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP
);`

	sqliteCreateRoles = `CREATE TABLE roles (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`

	sqliteCreatePermissions = `CREATE TABLE permissions (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`

	sqliteCreateRolePermissions = `CREATE TABLE role_permissions (
    role_id TEXT NOT NULL,
    permission_id TEXT NOT NULL,
    PRIMARY KEY (role_id, permission_id)
);`

	sqliteCreateRefreshTokens = `CREATE TABLE refresh_tokens (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL,
    token TEXT NOT NULL UNIQUE,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

	sqliteCreateOTPs = `CREATE TABLE otps (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL,
    code TEXT NOT NULL,
    channel TEXT NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    verified BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
)

func setupIdentityDB(t *testing.T) (identity.RepositoryManager, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	for _, ddl := range []string{
		sqliteCreateUsers,
		sqliteCreateRoles,
		sqliteCreatePermissions,
		sqliteCreateRolePermissions,
		sqliteCreateRefreshTokens,
		sqliteCreateOTPs,
	} {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return identity.NewRepositoryManager(bunDB), cleanup
}

func testConfig() identity.Config {
	return identity.Config{
		AccessSigningKey:  "access-test-key",
		RefreshSigningKey: "refresh-test-key",
		Issuer:            "test-issuer",
		Audience:          []string{"test:audience"},
		AccessTokenTTL:    time.Hour,
		RefreshTokenTTL:   24 * time.Hour,
		OTPTTL:            10 * time.Minute,
		PhoneRegion:       "US",
	}
}

func seedRole(t *testing.T, repo identity.RepositoryManager, name string, permissions ...string) *identity.Role {
	t.Helper()
	ctx := context.Background()

	role, err := repo.Roles().Create(ctx, &identity.Role{Name: name})
	require.NoError(t, err)

	for _, permName := range permissions {
		perm, err := repo.Roles().CreatePermission(ctx, &identity.Permission{Name: permName})
		require.NoError(t, err)
		require.NoError(t, repo.Roles().AttachPermission(ctx, role.ID, perm.ID))
	}

	return role
}

func seedUser(t *testing.T, repo identity.RepositoryManager, user *identity.User) *identity.User {
	t.Helper()
	created, err := repo.Users().Register(context.Background(), user)
	require.NoError(t, err)
	return created
}

// captureNotifier records the last code dispatched per channel.
type captureNotifier struct {
	emailTo   string
	emailCode string
	smsTo     string
	smsCode   string
}

func (c *captureNotifier) SendEmail(_ context.Context, address, code string) error {
	c.emailTo = address
	c.emailCode = code
	return nil
}

func (c *captureNotifier) SendSMS(_ context.Context, number, code string) error {
	c.smsTo = number
	c.smsCode = code
	return nil
}

// captureLogger renders lines the way defLogger's printf calls would.
type captureLogger struct {
	lines []string
}

func (l *captureLogger) logf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.logf(format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.logf(format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.logf(format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.logf(format, args...) }

// recordingSink accumulates activity events in order.
type recordingSink struct {
	events []identity.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event identity.ActivityEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) has(eventType identity.ActivityEventType) bool {
	for _, evt := range r.events {
		if evt.EventType == eventType {
			return true
		}
	}
	return false
}

type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event identity.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
