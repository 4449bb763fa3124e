package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/storage"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Definition is the declarative catalog: features with their permissions,
// and the system roles shared by every organization.
type Definition struct {
	Features []FeatureDefinition `yaml:"features"`
	Roles    []RoleDefinition    `yaml:"roles"`
}

// FeatureDefinition declares a feature and the permissions it owns
type FeatureDefinition struct {
	Slug        string                 `yaml:"slug"`
	Name        string                 `yaml:"name"`
	Mandatory   bool                   `yaml:"mandatory"`
	Permissions []PermissionDefinition `yaml:"permissions"`
}

// PermissionDefinition declares one resource.action permission
type PermissionDefinition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// RoleDefinition declares a system role. Permission entries may be exact
// names, "resource.*" or "*".
type RoleDefinition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// DefaultDefinition returns the built-in catalog
func DefaultDefinition() (*Definition, error) {
	return ParseDefinition(builtinCatalog)
}

// LoadDefinition reads a catalog file
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes and validates a YAML catalog
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks slugs and names are unique and every role grant resolves
func (d *Definition) Validate() error {
	slugs := make(map[string]bool)
	names := make(map[string]bool)
	for _, f := range d.Features {
		if f.Slug == "" {
			return errors.New("feature slug is required")
		}
		if slugs[f.Slug] {
			return fmt.Errorf("duplicate feature %q", f.Slug)
		}
		slugs[f.Slug] = true

		for _, p := range f.Permissions {
			if !ValidPermissionName(p.Name) {
				return fmt.Errorf("feature %s: invalid permission name %q", f.Slug, p.Name)
			}
			if names[p.Name] {
				return fmt.Errorf("permission %q declared twice", p.Name)
			}
			names[p.Name] = true
		}
	}

	roles := make(map[string]bool)
	for _, r := range d.Roles {
		if r.Name == "" {
			return errors.New("role name is required")
		}
		if roles[r.Name] {
			return fmt.Errorf("duplicate role %q", r.Name)
		}
		roles[r.Name] = true

		if _, err := d.Expand(r.Permissions); err != nil {
			return fmt.Errorf("role %s: %w", r.Name, err)
		}
	}
	return nil
}

// Expand resolves role grant patterns into concrete permission names
func (d *Definition) Expand(patterns []string) ([]string, error) {
	var all []string
	for _, f := range d.Features {
		for _, p := range f.Permissions {
			all = append(all, p.Name)
		}
	}

	seen := make(map[string]bool)
	var result []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}

	for _, pattern := range patterns {
		switch {
		case pattern == "*":
			for _, name := range all {
				add(name)
			}
		case strings.HasSuffix(pattern, ".*"):
			prefix := strings.TrimSuffix(pattern, "*")
			matched := false
			for _, name := range all {
				if strings.HasPrefix(name, prefix) {
					add(name)
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("pattern %q matches no permission: %w", pattern, authzerr.ErrPermissionNotFound)
			}
		default:
			found := false
			for _, name := range all {
				if name == pattern {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("permission %q: %w", pattern, authzerr.ErrPermissionNotFound)
			}
			add(pattern)
		}
	}
	return result, nil
}

// Seed upserts the definition into the database in one transaction. It is
// idempotent: features and permissions are upserted by slug and name, system
// roles are created when missing and their grants replaced.
func Seed(ctx context.Context, db *sql.DB, def *Definition) error {
	return storage.WithTx(ctx, db, func(tx *sql.Tx) error {
		store := NewStore(tx)

		permIDs := make(map[string]int64)
		for _, fd := range def.Features {
			feature := &Feature{Slug: fd.Slug, Name: fd.Name, Mandatory: fd.Mandatory}
			if feature.Name == "" {
				feature.Name = fd.Slug
			}
			if err := store.UpsertFeature(ctx, feature); err != nil {
				return err
			}

			for _, pd := range fd.Permissions {
				perm := &Permission{Name: pd.Name, FeatureID: feature.ID, Description: pd.Description}
				if err := store.UpsertPermission(ctx, perm); err != nil {
					return err
				}
				permIDs[perm.Name] = perm.ID
			}
		}

		for _, rd := range def.Roles {
			role, err := store.GetRoleByName(ctx, rd.Name, nil)
			if errors.Is(err, authzerr.ErrRoleNotFound) {
				role = &Role{Name: rd.Name, Description: rd.Description, IsSystemRole: true}
				err = store.CreateRole(ctx, role)
			}
			if err != nil {
				return fmt.Errorf("failed to seed role %s: %w", rd.Name, err)
			}

			names, err := def.Expand(rd.Permissions)
			if err != nil {
				return fmt.Errorf("role %s: %w", rd.Name, err)
			}
			ids := make([]int64, 0, len(names))
			for _, name := range names {
				ids = append(ids, permIDs[name])
			}
			if err := store.ReplaceRolePermissions(ctx, role.ID, ids); err != nil {
				return fmt.Errorf("failed to seed grants for %s: %w", rd.Name, err)
			}
		}
		return nil
	})
}
