package application

import (
	"context"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.accounts.BootstrapAdmin(ctx, "admin", "admin123"))
	require.NoError(t, env.accounts.BootstrapAdmin(ctx, "admin", "other"))

	users, err := env.accounts.ListUsers(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleAdmin, users[0].Role)
	assert.Equal(t, "IT", users[0].Department)

	res, err := env.accounts.Login(ctx, "admin", "admin123", LoginModeSession)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)

	logs, err := env.accounts.ListAuditLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "auth.login.session", logs[0].Action)
	assert.Equal(t, "auth.bootstrap_admin", logs[1].Action)
	assert.Equal(t, "admin", logs[1].ActorUsername)
}

func TestLoginAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice", domain.RoleManager)

	_, err := env.accounts.Login(ctx, "alice", "wrong", LoginModeSession)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = env.accounts.Login(ctx, "nobody", "secret", LoginModeSession)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = env.accounts.Login(ctx, "alice", "secret", "cookie")
	assert.True(t, domain.IsValidation(err))

	session, err := env.accounts.Login(ctx, "alice", "secret", LoginModeSession)
	require.NoError(t, err)
	require.NotNil(t, session.ExpiresAt)

	identity, err := env.accounts.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, identity.User.ID)
	assert.True(t, env.accounts.Can(identity, PermReportsManage))
	assert.False(t, env.accounts.Can(identity, PermUsersManage))

	token, err := env.accounts.Login(ctx, "alice", "secret", LoginModeToken)
	require.NoError(t, err)
	assert.Nil(t, token.ExpiresAt)
	_, err = env.accounts.Authenticate(ctx, token.Token)
	require.NoError(t, err)

	require.NoError(t, env.accounts.Logout(ctx, session.Token))
	_, err = env.accounts.Authenticate(ctx, session.Token)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.accounts.Authenticate(ctx, "")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.user(t, "alice", domain.RoleUser)

	token, err := env.accounts.Login(ctx, "alice", "secret", LoginModeToken)
	require.NoError(t, err)
	other, err := env.accounts.Login(ctx, "alice", "secret", LoginModeToken)
	require.NoError(t, err)

	require.NoError(t, env.accounts.Logout(ctx, token.Token))
	_, err = env.accounts.Authenticate(ctx, token.Token)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.accounts.Authenticate(ctx, other.Token)
	require.NoError(t, err, "other logins stay valid")

	require.NoError(t, env.accounts.Logout(ctx, token.Token), "second logout is a no-op")
	require.NoError(t, env.accounts.Logout(ctx, ""))
}

func TestExpiredSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.user(t, "alice", domain.RoleUser)

	session, err := env.accounts.Login(ctx, "alice", "secret", LoginModeSession)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	_, err = env.accounts.Authenticate(ctx, session.Token)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRolePermissions(t *testing.T) {
	env := newTestEnv(t)

	admin := domain.Identity{Permissions: PermissionsForRole(domain.RoleAdmin)}
	user := domain.Identity{Permissions: PermissionsForRole(domain.RoleUser)}

	assert.True(t, env.accounts.Can(admin, PermUsersManage))
	assert.True(t, env.accounts.Can(admin, PermAuditRead))
	assert.True(t, env.accounts.Can(user, PermReportsWrite))
	assert.True(t, env.accounts.Can(user, PermStatsRead))
	assert.False(t, env.accounts.Can(user, PermReportsManage))
	assert.False(t, env.accounts.Can(user, PermUsersRead))
	assert.False(t, env.accounts.Can(domain.Identity{}, PermReportsRead))
}

func TestCreateUserValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.user(t, "alice", domain.RoleUser)

	_, err := env.accounts.CreateUser(ctx, domain.CreateUserRequest{Username: "alice", Password: "secret", Role: domain.RoleUser, Department: "QA"})
	assert.Equal(t, []domain.FieldError{{Field: "username", Message: "is already taken"}}, validationFields(t, err))

	_, err = env.accounts.CreateUser(ctx, domain.CreateUserRequest{Username: "bob", Password: "123", Role: domain.Role("root"), Department: ""})
	assert.Equal(t, []domain.FieldError{
		{Field: "password", Message: "must be at least 4 characters"},
		{Field: "role", Message: "must be one of: admin user manager"},
		{Field: "department", Message: "is required"},
	}, validationFields(t, err))
}

func TestChangeAndResetPassword(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice", domain.RoleUser)
	admin := env.user(t, "root", domain.RoleAdmin)

	err := env.accounts.ChangePassword(ctx, alice.ID, "secret", "abc")
	assert.Equal(t, []domain.FieldError{{Field: "new_password", Message: "must be at least 4 characters"}}, validationFields(t, err))
	err = env.accounts.ChangePassword(ctx, alice.ID, "wrong", "newpass")
	assert.True(t, domain.IsValidation(err))
	require.NoError(t, env.accounts.ChangePassword(ctx, alice.ID, "secret", "newpass"))

	_, err = env.accounts.Login(ctx, "alice", "newpass", LoginModeSession)
	require.NoError(t, err)

	session, err := env.accounts.Login(ctx, "alice", "newpass", LoginModeSession)
	require.NoError(t, err)
	require.NoError(t, env.accounts.ResetPassword(ctx, &admin.ID, alice.ID))

	_, err = env.accounts.Authenticate(ctx, session.Token)
	require.ErrorIs(t, err, domain.ErrUnauthorized, "reset should drop sessions")
	_, err = env.accounts.Login(ctx, "alice", "123456", LoginModeSession)
	require.NoError(t, err)

	require.ErrorIs(t, env.accounts.ResetPassword(ctx, &admin.ID, "ghost"), domain.ErrNotFound)
}

func TestDeleteUserForbiddenWhileReferenced(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := env.user(t, "root", domain.RoleAdmin)
	alice := env.user(t, "alice", domain.RoleUser)
	bob := env.user(t, "bob", domain.RoleUser)
	env.report(t, alice.ID, "Crash on save", domain.TypeBug)

	err := env.accounts.DeleteUser(ctx, &admin.ID, alice.ID)
	assert.Equal(t, []domain.FieldError{{Field: "user_id", Message: "user is referenced by reports"}}, validationFields(t, err))

	err = env.accounts.DeleteUser(ctx, &admin.ID, admin.ID)
	assert.True(t, domain.IsValidation(err))

	_, err = env.accounts.Login(ctx, "bob", "secret", LoginModeToken)
	require.NoError(t, err)
	require.NoError(t, env.accounts.DeleteUser(ctx, &admin.ID, bob.ID))

	_, err = env.accounts.GetUser(ctx, bob.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, env.accounts.DeleteUser(ctx, &admin.ID, bob.ID), domain.ErrNotFound)
}
