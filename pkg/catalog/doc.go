// Package catalog is the Role & Permission Catalog and its feature gate.
//
// Permissions are named resource.action and each belongs to one feature.
// A permission is usable in a workspace only when its feature is mandatory
// or enabled in that exact workspace; activation is never inherited between
// an organization and its projects.
//
// Roles are either system roles (organization_id NULL, shared by every
// organization and seeded from catalog.yaml) or custom roles scoped to one
// organization. GetRolePermissions applies the feature gate and is served
// from a two-tier cache: an in-process expirable LRU in front of Redis.
package catalog
