package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"staffline/internal/config"
	"staffline/internal/db"
	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/migrate"
	"staffline/internal/repo"
)

func TestPermissionsByUserType(t *testing.T) {
	admin := domain.User{ID: "admin", Type: domain.UserTypeAdmin}
	manager := domain.User{ID: "dm", Type: domain.UserTypeDevManager}

	for _, perm := range []string{PermDirectExecute, PermDecideRequests, PermManageUsers, PermManageCatalog, PermReconcile, PermViewAllRecords} {
		require.True(t, Has(admin, perm), perm)
		require.False(t, Has(manager, perm), perm)
	}
	require.True(t, Has(manager, PermSubmitRequests))
	require.Equal(t, []string{PermSubmitRequests}, Permissions(manager))
	require.Empty(t, Permissions(domain.User{ID: "ghost", Type: "GUEST"}))

	require.NoError(t, Require(admin, PermDecideRequests))
	err := Require(manager, PermDecideRequests)
	var forbidden ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	require.Equal(t, PermDecideRequests, forbidden.Permission)
}

func TestPermissionsReturnsCopy(t *testing.T) {
	admin := domain.User{ID: "admin", Type: domain.UserTypeAdmin}
	perms := Permissions(admin)
	perms[0] = "tampered"
	require.True(t, Has(admin, PermDirectExecute))
}

func TestCanSeeRequest(t *testing.T) {
	admin := domain.User{ID: "admin", Type: domain.UserTypeAdmin}
	dm := domain.User{ID: "dm", Type: domain.UserTypeDevManager}
	other := domain.User{ID: "dm2", Type: domain.UserTypeDevManager}
	req := domain.AssignmentRequest{ID: "r1", RequesterID: "dm"}

	require.True(t, CanSeeRequest(admin, req))
	require.True(t, CanSeeRequest(dm, req))
	require.False(t, CanSeeRequest(other, req))
}

func TestResolve(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn, config.Default())
	ctx := context.Background()
	_, _, err = eng.EnsureAdmin(ctx, config.BootstrapUser{ID: "admin", Email: "admin@example.com"})
	require.NoError(t, err)

	svc := Service{Repo: eng.Repo}
	u, err := svc.Resolve(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, domain.UserTypeAdmin, u.Type)

	_, err = svc.Resolve(ctx, "")
	require.Error(t, err)

	_, err = svc.Resolve(ctx, "nobody")
	require.ErrorIs(t, err, repo.ErrNotFound)
}
