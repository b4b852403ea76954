package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrRoleNotFound is returned by repositories and by mutating manager
	// operations when the role does not exist.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrPermissionNotFound is returned when a permission lookup misses.
	ErrPermissionNotFound = errors.New("rbac: permission not found")
)

// Repository defines the persistence interface for roles and permissions.
// Lookups that miss return ErrRoleNotFound or ErrPermissionNotFound.
type Repository interface {
	FindRoleByID(ctx context.Context, id uuid.UUID) (*Role, error)
	FindRoleByName(ctx context.Context, name RoleName) (*Role, error)
	FindRoleWithPermissions(ctx context.Context, id uuid.UUID) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	CreateRole(ctx context.Context, role *Role) error

	FindPermissionByName(ctx context.Context, name string) (*Permission, error)
	FindPermissionsByCategory(ctx context.Context, category Category) ([]*Permission, error)
	CreatePermission(ctx context.Context, perm *Permission) error

	SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID, updatedBy string) error
}
