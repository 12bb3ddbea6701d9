package rbac

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Catalog provides the immutable role -> permission reference data
type Catalog interface {
	// PermissionsForRole returns the permissions of a role; unknown roles yield an empty set
	PermissionsForRole(ctx context.Context, role Role) (PermissionSet, error)

	// RoleByName returns a role definition or ErrNotFound
	RoleByName(ctx context.Context, name string) (*RoleInfo, error)
}

// StaticCatalog serves BuiltInRoles without a database
type StaticCatalog struct {
	roles map[Role]*RoleInfo
	perms map[Role]PermissionSet
}

// NewStaticCatalog builds a catalog from role definitions.
// A nil slice uses BuiltInRoles.
func NewStaticCatalog(roles []RoleInfo) *StaticCatalog {
	if roles == nil {
		roles = BuiltInRoles()
	}
	c := &StaticCatalog{
		roles: make(map[Role]*RoleInfo, len(roles)),
		perms: make(map[Role]PermissionSet, len(roles)),
	}
	for i := range roles {
		c.roles[roles[i].Name] = roles[i].Clone()
		c.perms[roles[i].Name] = NewPermissionSet(roles[i].Permissions...)
	}
	return c
}

// PermissionsForRole implements Catalog
func (c *StaticCatalog) PermissionsForRole(_ context.Context, role Role) (PermissionSet, error) {
	if set, ok := c.perms[role]; ok {
		return set, nil
	}
	return PermissionSet{}, nil
}

// RoleByName implements Catalog
func (c *StaticCatalog) RoleByName(_ context.Context, name string) (*RoleInfo, error) {
	role, err := ParseRole(name)
	if err != nil {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	info, ok := c.roles[role]
	if !ok {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	return info.Clone(), nil
}

// catalogCacheSize comfortably exceeds the number of built-in roles, so the
// cache never evicts in practice.
const catalogCacheSize = 256

// CachedCatalog memoizes another Catalog for the lifetime of the process.
// Catalog data only changes through seeding, so entries are never invalidated.
type CachedCatalog struct {
	next  Catalog
	perms *lru.Cache[Role, PermissionSet]
	roles *lru.Cache[string, *RoleInfo]
}

// NewCachedCatalog wraps a catalog with an in-process cache
func NewCachedCatalog(next Catalog) (*CachedCatalog, error) {
	perms, err := lru.New[Role, PermissionSet](catalogCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission cache: %w", err)
	}
	roles, err := lru.New[string, *RoleInfo](catalogCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create role cache: %w", err)
	}
	return &CachedCatalog{next: next, perms: perms, roles: roles}, nil
}

// PermissionsForRole implements Catalog
func (c *CachedCatalog) PermissionsForRole(ctx context.Context, role Role) (PermissionSet, error) {
	if set, ok := c.perms.Get(role); ok {
		return set, nil
	}
	set, err := c.next.PermissionsForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	c.perms.Add(role, set)
	return set, nil
}

// RoleByName implements Catalog. Not-found results are not cached and every
// caller gets its own copy.
func (c *CachedCatalog) RoleByName(ctx context.Context, name string) (*RoleInfo, error) {
	if info, ok := c.roles.Get(name); ok {
		return info.Clone(), nil
	}
	info, err := c.next.RoleByName(ctx, name)
	if err != nil {
		return nil, err
	}
	c.roles.Add(name, info.Clone())
	return info, nil
}

// Warm loads every built-in role into the cache
func (c *CachedCatalog) Warm(ctx context.Context) error {
	for _, role := range BuiltInRoles() {
		if _, err := c.PermissionsForRole(ctx, role.Name); err != nil {
			return fmt.Errorf("failed to warm permissions for %s: %w", role.Name, err)
		}
	}
	return nil
}
