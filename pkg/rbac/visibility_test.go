package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/authzerr"
)

func TestIsVisible(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.join(t, f.project.ID, userProject, "viewer")
	f.join(t, f.acme.ID, userOrgOnly, "member")

	tests := []struct {
		name    string
		userID  int64
		feature string
		want    bool
	}{
		{"owner sees disabled feature", userOwner, "reports", true},
		{"super admin sees disabled feature", userSuperAdmin, "reports", true},
		{"viewer sees enabled boards", userProject, "boards", true},
		{"viewer does not see disabled reports", userProject, "reports", false},
		{"organization member sees nothing in project", userOrgOnly, "boards", false},
		{"stranger", userStranger, "members", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.IsVisible(ctx, tt.userID, f.project.ID, tt.feature)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown feature", func(t *testing.T) {
		_, err := f.engine.IsVisible(ctx, userOwner, f.project.ID, "wiki")
		assert.ErrorIs(t, err, authzerr.ErrFeatureNotFound)
	})

	t.Run("unknown workspace", func(t *testing.T) {
		_, err := f.engine.IsVisible(ctx, userOwner, 4040, "boards")
		assert.ErrorIs(t, err, authzerr.ErrWorkspaceNotFound)
	})
}

// IsVisible must agree with the disjunction over HasPermission for every user
// and feature.
func TestIsVisibleMatchesHasPermission(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.join(t, f.project.ID, userProject, "member")
	f.join(t, f.project.ID, userOrgOnly, "viewer")

	features, err := f.catalog.ListFeatures(ctx)
	require.NoError(t, err)

	for _, userID := range []int64{userOwner, userSuperAdmin, userProject, userOrgOnly, userStranger} {
		for _, feature := range features {
			perms, err := f.catalog.ListFeaturePermissions(ctx, feature.ID)
			require.NoError(t, err)

			auth, err := f.engine.ResolveAuthority(ctx, userID, f.project.ID)
			require.NoError(t, err)

			want := auth.IsBypass()
			for _, p := range perms {
				ok, err := f.engine.HasPermission(ctx, userID, f.project.ID, p.Name)
				require.NoError(t, err)
				want = want || ok
			}

			got, err := f.engine.IsVisible(ctx, userID, f.project.ID, feature.Slug)
			require.NoError(t, err)
			assert.Equal(t, want, got, "user %d feature %s", userID, feature.Slug)
		}
	}
}
