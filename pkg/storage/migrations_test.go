package storage

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsSQLite(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	require.NoError(t, RunMigrations(ctx, db, DialectSQLite))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM warden_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)

	// second run is a no-op
	require.NoError(t, RunMigrations(ctx, db, DialectSQLite))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM warden_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)

	for _, table := range []string{
		"workspaces", "features", "workspace_features", "permissions",
		"roles", "role_permissions", "workspace_memberships", "super_admins", "audit_logs",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1", table).Scan(&name)
		assert.NoError(t, err, "table %s missing", table)
	}
}

func TestMembershipUniqueConstraint(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)
	require.NoError(t, RunMigrations(ctx, db, DialectSQLite))

	_, err = db.Exec(`INSERT INTO workspaces (type, owner_id, name) VALUES ('organization', 1, 'acme')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO features (slug, name) VALUES ('workspace', 'Workspace')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO roles (name, is_system_role) VALUES ('member', TRUE)`)
	require.NoError(t, err)

	insert := `INSERT INTO workspace_memberships (workspace_id, user_id, role_id, invited_by) VALUES (1, 2, 1, 1)`
	_, err = db.Exec(insert)
	require.NoError(t, err)

	_, err = db.Exec(insert)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestWorkspaceShapeConstraint(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)
	require.NoError(t, RunMigrations(ctx, db, DialectSQLite))

	_, err = db.Exec(`INSERT INTO workspaces (type, name) VALUES ('project', 'no parent')`)
	assert.Error(t, err)

	_, err = db.Exec(`INSERT INTO workspaces (type, name) VALUES ('organization', 'no owner')`)
	assert.Error(t, err)
}

func TestDialectRender(t *testing.T) {
	assert.Contains(t, DialectPostgres.render("id {{SERIAL_PK}}"), "BIGSERIAL PRIMARY KEY")
	assert.Contains(t, DialectSQLite.render("id {{SERIAL_PK}}"), "INTEGER PRIMARY KEY AUTOINCREMENT")
}
