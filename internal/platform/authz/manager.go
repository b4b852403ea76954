// Package authz composes RBAC lookups with request context (self-access,
// administrator override) into boolean checks and enforce variants that
// return *PermissionDeniedError.
package authz

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/metrics"
	"github.com/rcm/rcm/internal/platform/rbac"
)

// RoleChecker is the part of the RBAC manager authorization relies on.
type RoleChecker interface {
	CheckPermissionForAction(ctx context.Context, roleID uuid.UUID, category rbac.Category, action rbac.Action, resource string) bool
	RoleName(ctx context.Context, roleID uuid.UUID) (string, error)
}

// Manager is constructed once per process and shared by handlers and
// services.
type Manager struct {
	roles  RoleChecker
	logger zerolog.Logger
}

func NewManager(roles RoleChecker, logger zerolog.Logger) *Manager {
	return &Manager{
		roles:  roles,
		logger: logger.With().Str("component", "authz").Logger(),
	}
}

// HasPermission checks the user's flat permission list for name, or for a
// CATEGORY:* or *:* wildcard.
func (m *Manager) HasPermission(user *auth.User, name string) bool {
	if user == nil || len(user.Permissions) == 0 || name == "" {
		return false
	}

	category := strings.SplitN(name, ":", 2)[0]
	categoryWildcard := category + ":*"
	for _, p := range user.Permissions {
		if p == name || p == categoryWildcard || p == "*:*" {
			return true
		}
	}
	return false
}

// HasPermissionForAction checks the flat list for the exact permission, then
// for the resource-less permission when a resource was given, and finally
// asks the RBAC manager about the user's role.
func (m *Manager) HasPermissionForAction(ctx context.Context, user *auth.User, category rbac.Category, action rbac.Action, resource string) bool {
	if user == nil {
		return false
	}
	if m.HasPermission(user, rbac.BuildPermissionName(category, action, resource)) {
		return true
	}
	if resource != "" && m.HasPermission(user, rbac.BuildPermissionName(category, action, "")) {
		return true
	}
	return m.roles.CheckPermissionForAction(ctx, user.RoleID, category, action, resource)
}

// CanAccessResource allows administrators, the resource owner, and anyone
// holding the permission for the resource.
func (m *Manager) CanAccessResource(ctx context.Context, user *auth.User, category rbac.Category, action rbac.Action, resourceID, ownerID string) bool {
	if user == nil {
		return false
	}
	if m.IsAdministrator(ctx, user) {
		return true
	}
	if ownerID != "" && ownerID == user.ID {
		return true
	}
	return m.HasPermissionForAction(ctx, user, category, action, resourceID)
}

// IsAdministrator resolves the user's role and compares it to the
// administrator role.
func (m *Manager) IsAdministrator(ctx context.Context, user *auth.User) bool {
	if user == nil {
		return false
	}
	name, err := m.roles.RoleName(ctx, user.RoleID)
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", user.ID).Msg("role lookup failed")
		return false
	}
	return name == string(rbac.RoleAdministrator)
}

// EnforcePermission returns a *PermissionDeniedError unless HasPermission.
func (m *Manager) EnforcePermission(ctx context.Context, user *auth.User, name string) error {
	if user == nil {
		return m.deny(nil, &PermissionDeniedError{Permissions: []string{name}, Reason: "no authenticated user"})
	}
	if !m.HasPermission(user, name) {
		return m.deny(user, &PermissionDeniedError{UserID: user.ID, Permissions: []string{name}})
	}
	m.allow(user, name, "")
	return nil
}

// EnforcePermissionForAction returns a *PermissionDeniedError unless
// HasPermissionForAction.
func (m *Manager) EnforcePermissionForAction(ctx context.Context, user *auth.User, category rbac.Category, action rbac.Action, resource string) error {
	name := rbac.BuildPermissionName(category, action, resource)
	perms := []string{name}
	if resource != "" {
		perms = append(perms, rbac.BuildPermissionName(category, action, ""))
	}

	if user == nil {
		return m.deny(nil, &PermissionDeniedError{Permissions: perms, Reason: "no authenticated user"})
	}
	if !m.HasPermissionForAction(ctx, user, category, action, resource) {
		return m.deny(user, &PermissionDeniedError{UserID: user.ID, Permissions: perms})
	}
	m.allow(user, name, "")
	return nil
}

// EnforceResourceAccess returns a *PermissionDeniedError unless
// CanAccessResource.
func (m *Manager) EnforceResourceAccess(ctx context.Context, user *auth.User, category rbac.Category, action rbac.Action, resourceID, ownerID string) error {
	name := rbac.BuildPermissionName(category, action, resourceID)
	if user == nil {
		return m.deny(nil, &PermissionDeniedError{Permissions: []string{name}, ResourceID: resourceID, Reason: "no authenticated user"})
	}
	if !m.CanAccessResource(ctx, user, category, action, resourceID, ownerID) {
		return m.deny(user, &PermissionDeniedError{UserID: user.ID, Permissions: []string{name}, ResourceID: resourceID})
	}
	m.allow(user, name, resourceID)
	return nil
}

// EnforceAdministrator returns a *PermissionDeniedError unless the user is
// an administrator.
func (m *Manager) EnforceAdministrator(ctx context.Context, user *auth.User) error {
	if user == nil {
		return m.deny(nil, &PermissionDeniedError{Reason: "administrator role required"})
	}
	if !m.IsAdministrator(ctx, user) {
		return m.deny(user, &PermissionDeniedError{UserID: user.ID, Reason: "administrator role required"})
	}
	m.allow(user, string(rbac.RoleAdministrator), "")
	return nil
}

func (m *Manager) allow(user *auth.User, permission, resourceID string) {
	metrics.AuthzDecisions.WithLabelValues("allowed").Inc()
	ev := m.logger.Info().
		Str("user_id", user.ID).
		Str("role", user.Role).
		Str("permission", permission)
	if resourceID != "" {
		ev = ev.Str("resource_id", resourceID)
	}
	ev.Msg("access granted")
}

func (m *Manager) deny(user *auth.User, err *PermissionDeniedError) error {
	metrics.AuthzDecisions.WithLabelValues("denied").Inc()
	ev := m.logger.Warn().Strs("permissions", err.Permissions)
	if user != nil {
		ev = ev.Str("user_id", user.ID).Str("role", user.Role)
	}
	if err.ResourceID != "" {
		ev = ev.Str("resource_id", err.ResourceID)
	}
	if err.Reason != "" {
		ev = ev.Str("reason", err.Reason)
	}
	ev.Msg("access denied")
	return err
}
