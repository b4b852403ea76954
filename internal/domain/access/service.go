package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/audit"
	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/authz"
	"github.com/rcm/rcm/internal/platform/masking"
	"github.com/rcm/rcm/internal/platform/rbac"
)

// Service administers roles and reports the caller's effective access.
type Service struct {
	rbac   *rbac.Manager
	authz  *authz.Manager
	audit  *audit.Logger
	logger zerolog.Logger
}

func NewService(rbacMgr *rbac.Manager, authzMgr *authz.Manager, auditLogger *audit.Logger, logger zerolog.Logger) *Service {
	return &Service{
		rbac:   rbacMgr,
		authz:  authzMgr,
		audit:  auditLogger,
		logger: logger.With().Str("component", "access").Logger(),
	}
}

func (s *Service) ListRoles(ctx context.Context) ([]*rbac.Role, error) {
	return s.rbac.ListRoles(ctx)
}

// GetRole returns the role with its permissions or rbac.ErrRoleNotFound.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (*rbac.Role, error) {
	role, err := s.rbac.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, rbac.ErrRoleNotFound
	}
	return role, nil
}

// AssignPermissions replaces a role's permission set and audits the change
// with the permission names before and after.
func (s *Service) AssignPermissions(ctx context.Context, user *auth.User, roleID uuid.UUID, permissionIDs []uuid.UUID) (*rbac.Role, error) {
	before, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	beforeNames := before.PermissionNames()

	if err := s.rbac.AssignPermissionsToRole(ctx, roleID, permissionIDs, user.ID); err != nil {
		return nil, err
	}

	after, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("reload role %s: %w", roleID, err)
	}

	s.audit.LogDataChange(ctx, user, audit.EventPermissionChange, "role", roleID.String(),
		map[string]any{"role": string(before.Name), "permissions": toAny(beforeNames)},
		map[string]any{"role": string(after.Name), "permissions": toAny(after.PermissionNames())},
	)
	return after, nil
}

// ClearCache drops this instance's RBAC cache.
func (s *Service) ClearCache(ctx context.Context, user *auth.User) {
	s.rbac.ClearCache()
	s.logger.Info().Str("user_id", user.ID).Msg("rbac cache cleared")
	s.audit.LogSecurityEvent(ctx, user, audit.EventPermissionChange, "rbac cache cleared",
		audit.WithSeverity(audit.SeverityInfo))
}

// Access describes what the caller may do.
type Access struct {
	UserID          string          `json:"user_id"`
	Role            string          `json:"role"`
	IsAdministrator bool            `json:"is_administrator"`
	Permissions     []string        `json:"permissions"`
	ACL             map[string]bool `json:"acl"`
	MaskingLevel    masking.Level   `json:"masking_level"`
}

// AccessFor builds the caller's access summary from the role's current
// permissions, not the token's.
func (s *Service) AccessFor(ctx context.Context, user *auth.User) (*Access, error) {
	if user == nil {
		return nil, authz.ErrPermissionDenied
	}
	perms, err := s.rbac.PermissionNames(ctx, user.RoleID)
	if err != nil {
		return nil, err
	}
	role, err := s.rbac.RoleName(ctx, user.RoleID)
	if err != nil {
		return nil, err
	}
	return &Access{
		UserID:          user.ID,
		Role:            role,
		IsAdministrator: s.authz.IsAdministrator(ctx, user),
		Permissions:     perms,
		ACL:             s.rbac.BuildAccessControlList(ctx, user),
		MaskingLevel:    masking.LevelForRoles([]string{role}),
	}, nil
}

func toAny(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

