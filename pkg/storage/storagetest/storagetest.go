// Package storagetest provides database fixtures for package tests.
package storagetest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/warden/pkg/storage"
)

var dbSeq atomic.Int64

func init() {
	storage.RegisterUniqueViolation(isSQLiteUniqueViolation)
}

func isSQLiteUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// NewSQLite opens a private in-memory SQLite database with the full schema
// applied. The shared-cache name lets every pooled connection see the same
// database; the pool is still capped at one connection so concurrent writers
// serialize the way they would on a single Postgres row lock.
func NewSQLite(t testing.TB) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:warden_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := storage.RunMigrations(context.Background(), db, storage.DialectSQLite); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// MustExec runs a fixture statement and fails the test on error.
func MustExec(t testing.TB, db storage.DBTX, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("fixture %q failed: %v", query, err)
	}
}

// InsertID runs an INSERT ... RETURNING id fixture and returns the id.
func InsertID(t testing.TB, db storage.DBTX, query string, args ...interface{}) int64 {
	t.Helper()
	var id int64
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&id); err != nil {
		t.Fatalf("fixture %q failed: %v", query, err)
	}
	return id
}
