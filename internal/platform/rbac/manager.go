package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/metrics"
)

// warmRoles are loaded into the cache right after initialization.
var warmRoles = []RoleName{RoleAdministrator, RoleFinancialManager, RoleBillingSpecialist}

// Manager answers "does role X hold permission Y" from an in-process cache
// backed by a Repository. It is constructed once per process and shared.
//
// The two caches (role by id, permission by name) are read-mostly. Concurrent
// misses may load the same entry twice; the last write wins.
type Manager struct {
	repo        Repository
	invalidator Invalidator
	logger      zerolog.Logger

	mu          sync.RWMutex
	roles       map[uuid.UUID]*Role
	permissions map[string]*Permission

	initMu      sync.Mutex
	initialized bool
}

// NewManager creates a Manager. A nil invalidator disables cross-instance
// cache invalidation.
func NewManager(repo Repository, invalidator Invalidator, logger zerolog.Logger) *Manager {
	if invalidator == nil {
		invalidator = NopInvalidator{}
	}
	return &Manager{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "rbac").Logger(),
		roles:       make(map[uuid.UUID]*Role),
		permissions: make(map[string]*Permission),
	}
}

// Initialize seeds the default permissions and roles once per process and
// warms the cache for the most frequently checked roles. Later calls are
// no-ops.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized {
		return nil
	}

	if err := m.seed(ctx); err != nil {
		return fmt.Errorf("rbac initialize: %w", err)
	}
	m.initialized = true

	for _, name := range warmRoles {
		role, err := m.repo.FindRoleByName(ctx, name)
		if err != nil {
			m.logger.Warn().Err(err).Str("role", string(name)).Msg("cache warm-up skipped")
			continue
		}
		if _, err := m.GetRole(ctx, role.ID); err != nil {
			m.logger.Warn().Err(err).Str("role", string(name)).Msg("cache warm-up failed")
		}
	}

	m.logger.Info().Msg("rbac initialized")
	return nil
}

// seed creates any missing default permission and system role and assigns
// the default permission set to roles that were just created. Existing roles
// keep whatever an administrator assigned to them.
func (m *Manager) seed(ctx context.Context) error {
	byName := make(map[string]*Permission)

	ensure := func(cat Category, act Action) error {
		name := BuildPermissionName(cat, act, "")
		if _, ok := byName[name]; ok {
			return nil
		}
		perm, err := m.repo.FindPermissionByName(ctx, name)
		if errors.Is(err, ErrPermissionNotFound) {
			perm = &Permission{Category: cat, Action: act, Description: name}
			err = m.repo.CreatePermission(ctx, perm)
		}
		if err != nil {
			return fmt.Errorf("seed permission %s: %w", name, err)
		}
		byName[name] = perm
		return nil
	}

	for _, cat := range AllCategories() {
		for _, act := range StandardActions() {
			if err := ensure(cat, act); err != nil {
				return err
			}
		}
	}
	for _, g := range DefaultComplianceGrants() {
		if err := ensure(g.Category, g.Action); err != nil {
			return err
		}
	}

	for _, name := range SystemRoles() {
		_, err := m.repo.FindRoleByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return fmt.Errorf("seed role %s: %w", name, err)
		}

		role := &Role{Name: name, Description: roleDescriptions[name], IsSystem: true}
		if err := m.repo.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}

		var ids []uuid.UUID
		for _, pn := range defaultPermissionsFor(name) {
			ids = append(ids, byName[pn].ID)
		}
		if err := m.repo.SetRolePermissions(ctx, role.ID, ids, "system"); err != nil {
			return fmt.Errorf("seed role %s permissions: %w", name, err)
		}
		m.logger.Info().Str("role", string(name)).Int("permissions", len(ids)).Msg("seeded system role")
	}
	return nil
}

// GetRole returns the role with its permissions, or nil when it does not
// exist.
func (m *Manager) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	m.mu.RLock()
	role, ok := m.roles[id]
	m.mu.RUnlock()
	if ok {
		metrics.RBACCacheLookups.WithLabelValues("role", "hit").Inc()
		return role, nil
	}
	metrics.RBACCacheLookups.WithLabelValues("role", "miss").Inc()

	role, err := m.repo.FindRoleWithPermissions(ctx, id)
	if errors.Is(err, ErrRoleNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load role %s: %w", id, err)
	}

	m.mu.Lock()
	m.roles[id] = role
	m.mu.Unlock()
	return role, nil
}

// GetPermissionByName returns the named permission, or nil when it does not
// exist.
func (m *Manager) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	m.mu.RLock()
	perm, ok := m.permissions[name]
	m.mu.RUnlock()
	if ok {
		metrics.RBACCacheLookups.WithLabelValues("permission", "hit").Inc()
		return perm, nil
	}
	metrics.RBACCacheLookups.WithLabelValues("permission", "miss").Inc()

	perm, err := m.repo.FindPermissionByName(ctx, name)
	if errors.Is(err, ErrPermissionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load permission %s: %w", name, err)
	}

	m.mu.Lock()
	m.permissions[name] = perm
	m.mu.Unlock()
	return perm, nil
}

// ListRoles returns every role from the store. The result is not cached.
func (m *Manager) ListRoles(ctx context.Context) ([]*Role, error) {
	return m.repo.ListRoles(ctx)
}

// PermissionsByCategory returns every permission defined for category.
func (m *Manager) PermissionsByCategory(ctx context.Context, category Category) ([]*Permission, error) {
	return m.repo.FindPermissionsByCategory(ctx, category)
}

// CheckPermission reports whether the role holds the exact permission name.
// Unknown roles and store failures yield false.
func (m *Manager) CheckPermission(ctx context.Context, roleID uuid.UUID, permissionName string) bool {
	role, err := m.GetRole(ctx, roleID)
	if err != nil {
		m.logger.Error().Err(err).Str("role_id", roleID.String()).Msg("permission check failed")
		return false
	}
	if role == nil {
		return false
	}
	return role.HasPermission(permissionName)
}

// CheckPermissionForAction checks CATEGORY:ACTION:RESOURCE and, when a
// resource was given and did not match, the resource-less CATEGORY:ACTION.
// There is no broader fallback.
func (m *Manager) CheckPermissionForAction(ctx context.Context, roleID uuid.UUID, category Category, action Action, resource string) bool {
	if m.CheckPermission(ctx, roleID, BuildPermissionName(category, action, resource)) {
		return true
	}
	if resource == "" {
		return false
	}
	return m.CheckPermission(ctx, roleID, BuildPermissionName(category, action, ""))
}

// PermissionNames returns the flat permission list for a role. An unknown
// role yields an empty list.
func (m *Manager) PermissionNames(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	role, err := m.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return []string{}, nil
	}
	return role.PermissionNames(), nil
}

// RoleName resolves a role id to its name, or "" when unknown.
func (m *Manager) RoleName(ctx context.Context, roleID uuid.UUID) (string, error) {
	role, err := m.GetRole(ctx, roleID)
	if err != nil || role == nil {
		return "", err
	}
	return string(role.Name), nil
}

// RoleIDByName resolves a role name to its id.
func (m *Manager) RoleIDByName(ctx context.Context, name string) (uuid.UUID, error) {
	role, err := m.repo.FindRoleByName(ctx, RoleName(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve role %q: %w", name, err)
	}
	return role.ID, nil
}

// AssignPermissionsToRole replaces the role's permission set. Local caches
// are cleared on success and other instances are notified through the
// invalidator.
func (m *Manager) AssignPermissionsToRole(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID, updatedBy string) error {
	if _, err := m.repo.FindRoleByID(ctx, roleID); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return fmt.Errorf("assign permissions to role %s: %w", roleID, ErrRoleNotFound)
		}
		return fmt.Errorf("assign permissions to role %s: %w", roleID, err)
	}

	if err := m.repo.SetRolePermissions(ctx, roleID, permissionIDs, updatedBy); err != nil {
		return fmt.Errorf("assign permissions to role %s: %w", roleID, err)
	}

	m.ClearCache()
	if err := m.invalidator.Publish(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to publish rbac cache invalidation")
	}

	m.logger.Info().
		Str("role_id", roleID.String()).
		Int("permissions", len(permissionIDs)).
		Str("updated_by", updatedBy).
		Msg("role permissions updated")
	return nil
}

// BuildAccessControlList flattens the user's role permissions into
// category/action[/resource] keys, lowercased, for bulk capability queries.
func (m *Manager) BuildAccessControlList(ctx context.Context, user *auth.User) map[string]bool {
	acl := make(map[string]bool)
	if user == nil {
		return acl
	}
	role, err := m.GetRole(ctx, user.RoleID)
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", user.ID).Msg("build acl failed")
		return acl
	}
	if role == nil {
		return acl
	}
	for _, p := range role.Permissions {
		acl[p.ACLKey()] = true
	}
	return acl
}

// ClearCache drops both caches. Subsequent lookups reload from the store.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.roles = make(map[uuid.UUID]*Role)
	m.permissions = make(map[string]*Permission)
	m.mu.Unlock()
}

// Watch clears the local caches whenever another instance publishes an
// invalidation. It blocks until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	return m.invalidator.Subscribe(ctx, func() {
		m.ClearCache()
		m.logger.Debug().Msg("rbac cache cleared by remote invalidation")
	})
}
