package storagetest

import (
	"context"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/storage"
)

func TestSQLiteUniqueViolations(t *testing.T) {
	ctx := context.Background()
	db := NewSQLite(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE pairs (k TEXT PRIMARY KEY, v TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO pairs (k, v) VALUES ('a', 'x')`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO pairs (k, v) VALUES ('a', 'y')`)
	assert.True(t, storage.IsUniqueViolation(err), "primary key")

	_, err = db.ExecContext(ctx, `INSERT INTO pairs (k, v) VALUES ('b', 'x')`)
	assert.True(t, storage.IsUniqueViolation(err), "unique column")

	_, err = db.ExecContext(ctx, `INSERT INTO pairs (k, v) VALUES ('c', NULL)`)
	require.Error(t, err)
	assert.False(t, storage.IsUniqueViolation(err), "not null")

	assert.False(t, isSQLiteUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}))
}
