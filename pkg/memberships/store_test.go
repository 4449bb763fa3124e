package memberships

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
)

type fixture struct {
	store  *Store
	org    int64
	member int64
	viewer int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewSQLite(t)

	org := storagetest.InsertID(t, db,
		`INSERT INTO workspaces (type, owner_id, name) VALUES ('organization', 1, 'acme') RETURNING id`)
	member := storagetest.InsertID(t, db,
		`INSERT INTO roles (name, is_system_role) VALUES ('member', TRUE) RETURNING id`)
	viewer := storagetest.InsertID(t, db,
		`INSERT INTO roles (name, is_system_role) VALUES ('viewer', TRUE) RETURNING id`)

	return &fixture{store: NewStore(db), org: org, member: member, viewer: viewer}
}

func TestInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inviter := int64(1)
	m := &Membership{WorkspaceID: f.org, UserID: 2, RoleID: f.member, InvitedBy: &inviter}
	require.NoError(t, f.store.Insert(ctx, m))
	assert.NotZero(t, m.ID)
	assert.False(t, m.JoinedAt.IsZero())

	got, err := f.store.Get(ctx, f.org, 2)
	require.NoError(t, err)
	assert.Equal(t, f.member, got.RoleID)
	require.NotNil(t, got.InvitedBy)
	assert.Equal(t, inviter, *got.InvitedBy)

	t.Run("second role in same workspace", func(t *testing.T) {
		err := f.store.Insert(ctx, &Membership{WorkspaceID: f.org, UserID: 2, RoleID: f.viewer})
		assert.ErrorIs(t, err, authzerr.ErrDuplicateAssignment)

		got, err := f.store.Get(ctx, f.org, 2)
		require.NoError(t, err)
		assert.Equal(t, f.member, got.RoleID, "existing role must be untouched")
	})
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m := &Membership{WorkspaceID: f.org, UserID: 7, RoleID: f.member}
	created, err := f.store.Ensure(ctx, m)
	require.NoError(t, err)
	assert.True(t, created)

	again := &Membership{WorkspaceID: f.org, UserID: 7, RoleID: f.viewer}
	created, err = f.store.Ensure(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, f.member, again.RoleID)
}

func TestInsertIfEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := &Membership{WorkspaceID: f.org, UserID: 1, RoleID: f.member}
	require.NoError(t, f.store.InsertIfEmpty(ctx, first))
	assert.NotZero(t, first.ID)
	assert.Nil(t, first.InvitedBy)
	assert.WithinDuration(t, time.Now(), first.JoinedAt, time.Minute)

	t.Run("same user again", func(t *testing.T) {
		err := f.store.InsertIfEmpty(ctx, &Membership{WorkspaceID: f.org, UserID: 1, RoleID: f.member})
		assert.ErrorIs(t, err, authzerr.ErrBootstrapPrecondition)
	})

	t.Run("different user once populated", func(t *testing.T) {
		err := f.store.InsertIfEmpty(ctx, &Membership{WorkspaceID: f.org, UserID: 3, RoleID: f.member})
		assert.ErrorIs(t, err, authzerr.ErrBootstrapPrecondition)

		count, err := f.store.Count(ctx, f.org)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestInsertIfEmptyKeepsJoinedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	m := &Membership{WorkspaceID: f.org, UserID: 1, RoleID: f.member, JoinedAt: at}
	require.NoError(t, f.store.InsertIfEmpty(ctx, m))

	got, err := f.store.Get(ctx, f.org, 1)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.JoinedAt), "want %s, got %s", at, got.JoinedAt)
}

// utcTime matches a time.Time argument in UTC
type utcTime struct{}

func (utcTime) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	return ok && !ts.IsZero() && ts.Location() == time.UTC
}

func TestInsertIfEmptyStampsUTC(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO workspace_memberships").
		WithArgs(int64(4), int64(1), int64(2), nil, utcTime{}).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewStore(db).InsertIfEmpty(ctx, &Membership{WorkspaceID: 4, UserID: 1, RoleID: 2})
	assert.ErrorIs(t, err, authzerr.ErrBootstrapPrecondition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.Insert(ctx, &Membership{WorkspaceID: f.org, UserID: 2, RoleID: f.member}))
	require.NoError(t, f.store.Insert(ctx, &Membership{WorkspaceID: f.org, UserID: 3, RoleID: f.member}))

	require.NoError(t, f.store.UpdateRole(ctx, f.org, 2, f.viewer))
	got, err := f.store.Get(ctx, f.org, 2)
	require.NoError(t, err)
	assert.Equal(t, f.viewer, got.RoleID)

	list, err := f.store.List(ctx, f.org)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, f.store.Delete(ctx, f.org, 2))
	_, err = f.store.Get(ctx, f.org, 2)
	assert.ErrorIs(t, err, authzerr.ErrMembershipNotFound)

	missing, err := f.store.Find(ctx, f.org, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, f.store.Delete(ctx, f.org, 2), authzerr.ErrMembershipNotFound)
	assert.ErrorIs(t, f.store.UpdateRole(ctx, f.org, 99, f.member), authzerr.ErrMembershipNotFound)
}

func TestStoreDatabaseErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	boom := errors.New("connection reset")

	mock.ExpectQuery("SELECT .* FROM workspace_memberships").WillReturnError(boom)
	_, err = store.Get(ctx, 1, 2)
	assert.ErrorIs(t, err, boom)
	assert.False(t, authzerr.IsNotFound(err))

	mock.ExpectExec("DELETE FROM workspace_memberships").WillReturnError(boom)
	assert.ErrorIs(t, store.Delete(ctx, 1, 2), boom)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(boom)
	_, err = store.Count(ctx, 1)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}
