// Package storage provides the relational persistence primitives shared by the
// Warden stores.
//
// # Overview
//
// The authorization engine is specified against a relational store that offers
// unique constraints and transactions. This package holds the pieces every store
// needs: the schema migrations, a transaction helper and driver-neutral error
// classification. Concrete connection management lives in storage/postgres.
//
// # Schema
//
// Migrations are applied in version order and tracked in warden_migrations:
//
//   - workspaces: organizations (owner_id set, parent_id null) and projects
//   - features, workspace_features: feature catalog and per-workspace activation
//   - permissions: resource.action names, each owned by one feature
//   - roles, role_permissions: system roles (organization_id null) and custom roles
//   - workspace_memberships: one role per (workspace_id, user_id)
//   - super_admins: Super Admin designations keyed by (organization_id, user_id)
//
// The same migration text runs against PostgreSQL and SQLite; only the serial
// primary key column is rendered per dialect:
//
//	if err := storage.RunMigrations(ctx, db, storage.DialectPostgres); err != nil {
//		return err
//	}
//
// # Transactions
//
// Stores accept a DBTX so they can be used directly or inside WithTx:
//
//	err := storage.WithTx(ctx, db, func(tx *sql.Tx) error {
//		if err := workspaces.NewStore(tx).TransferOwner(ctx, orgID, from, to); err != nil {
//			return err
//		}
//		return memberships.NewStore(tx).Upsert(ctx, m)
//	})
//
// # Uniqueness
//
// Membership and designation uniqueness is enforced by the database, never by a
// check-then-insert in Go. Inserts use ON CONFLICT DO NOTHING and inspect the
// affected row count; IsUniqueViolation covers paths where a constraint error is
// raised instead.
package storage
