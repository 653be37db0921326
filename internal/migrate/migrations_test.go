package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"staffline/internal/db"
	"staffline/internal/migrate"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := migrate.Version(conn)
	require.NoError(t, err)
	require.Equal(t, 0, v)

	require.NoError(t, migrate.Migrate(conn))
	require.NoError(t, migrate.Migrate(conn))

	latest, err := migrate.Latest()
	require.NoError(t, err)
	v, err = migrate.Version(conn)
	require.NoError(t, err)
	require.Equal(t, latest, v)
}

func TestActiveTripleIsUnique(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	now := "2025-01-01T00:00:00Z"
	_, err = conn.Exec(`INSERT INTO users(id,name,email,user_type,created_at) VALUES ('u1','Admin','a@x','ADMIN',?)`, now)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO resources(id,employee_id,name,email,status,created_at,updated_at) VALUES ('r1','EMP001','R','r@x','ASSIGNED',?,?)`, now, now)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO projects(id,name,owner_id,status,created_at,updated_at) VALUES ('p1','P','u1','ONGOING',?,?)`, now, now)
	require.NoError(t, err)

	insert := `INSERT INTO assignments(id,resource_id,project_id,role,start_date,end_date,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`
	_, err = conn.Exec(insert, "a1", "r1", "p1", "QA", "2025-01-01", "2025-02-01", "ACTIVE", now, now)
	require.NoError(t, err)
	_, err = conn.Exec(insert, "a2", "r1", "p1", "QA", "2025-01-01", "2025-02-01", "ACTIVE", now, now)
	require.Error(t, err)
	_, err = conn.Exec(insert, "a3", "r1", "p1", "QA", "2024-01-01", "2024-02-01", "EXPIRED", now, now)
	require.NoError(t, err)
	_, err = conn.Exec(insert, "a4", "r1", "p1", "Dev", "2025-01-01", "2025-02-01", "ACTIVE", now, now)
	require.NoError(t, err)
}
