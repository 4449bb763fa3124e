package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// Dialect selects the SQL flavour used when applying migrations.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// serialPK is replaced per dialect before a migration runs.
const serialPK = "{{SERIAL_PK}}"

func (d Dialect) render(sqlText string) string {
	pk := "BIGSERIAL PRIMARY KEY"
	if d == DialectSQLite {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return strings.ReplaceAll(sqlText, serialPK, pk)
}

// GetMigrations returns the schema migrations in version order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create workspaces table",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id {{SERIAL_PK}},
					type VARCHAR(32) NOT NULL CHECK (type IN ('organization', 'project')),
					parent_id BIGINT REFERENCES workspaces(id),
					owner_id BIGINT,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					CHECK (
						(type = 'organization' AND parent_id IS NULL AND owner_id IS NOT NULL) OR
						(type = 'project' AND parent_id IS NOT NULL)
					)
				);

				CREATE INDEX IF NOT EXISTS idx_workspaces_parent_id ON workspaces(parent_id);
				CREATE INDEX IF NOT EXISTS idx_workspaces_owner_id ON workspaces(owner_id);
			`,
		},
		{
			Version:     2,
			Description: "Create features and workspace_features tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS features (
					id {{SERIAL_PK}},
					slug VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					mandatory BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE TABLE IF NOT EXISTS workspace_features (
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					feature_id BIGINT NOT NULL REFERENCES features(id) ON DELETE CASCADE,
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					config TEXT NOT NULL DEFAULT '{}',
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (workspace_id, feature_id)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id {{SERIAL_PK}},
					name VARCHAR(255) NOT NULL UNIQUE,
					feature_id BIGINT NOT NULL REFERENCES features(id),
					description TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_feature_id ON permissions(feature_id);
			`,
		},
		{
			Version:     4,
			Description: "Create roles and role_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id {{SERIAL_PK}},
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					organization_id BIGINT REFERENCES workspaces(id) ON DELETE CASCADE,
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (name, organization_id)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_system_name ON roles(name) WHERE organization_id IS NULL;
				CREATE INDEX IF NOT EXISTS idx_roles_organization_id ON roles(organization_id);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create workspace_memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspace_memberships (
					id {{SERIAL_PK}},
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					invited_by BIGINT,
					joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (workspace_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_workspace_memberships_user_id ON workspace_memberships(user_id);
				CREATE INDEX IF NOT EXISTS idx_workspace_memberships_role_id ON workspace_memberships(role_id);
			`,
		},
		{
			Version:     6,
			Description: "Create super_admins table",
			SQL: `
				CREATE TABLE IF NOT EXISTS super_admins (
					organization_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					assigned_by BIGINT NOT NULL,
					assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_super_admins_user_id ON super_admins(user_id);
			`,
		},
		{
			Version:     7,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id {{SERIAL_PK}},
					timestamp TIMESTAMP NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					actor_id BIGINT,
					target_user_id BIGINT,
					organization_id BIGINT,
					workspace_id BIGINT,
					resource_type VARCHAR(50),
					resource_id VARCHAR(255),
					request_id VARCHAR(100),
					message TEXT,
					error_message TEXT,
					metadata TEXT,
					changes TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_organization_id ON audit_logs(organization_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS warden_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		slog.InfoContext(ctx, "running migration", "version", migration.Version, "description", migration.Description)

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, dialect.render(migration.SQL)); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO warden_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM warden_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[version] = true
	}
	return versions, rows.Err()
}
