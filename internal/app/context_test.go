package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"staffline/internal/config"
	"staffline/internal/domain"
)

func TestOpenSeedsAdminOnce(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ws, err := Open(ctx, dir)
	require.NoError(t, err)
	admin, err := ws.Engine.Repo.GetUser(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, domain.UserTypeAdmin, admin.Type)
	require.NoError(t, ws.Close())

	ws, err = Open(ctx, dir)
	require.NoError(t, err)
	defer ws.Close()
	admins, err := ws.Engine.Repo.ListUsers(ctx, domain.UserTypeAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 1)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("ops@example.com")), 0o644))

	ws, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer ws.Close()
	admin, err := ws.Engine.Repo.GetUser(context.Background(), "admin")
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", admin.Email)
}
