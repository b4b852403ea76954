package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and by the
// server when no database is configured.
type MemoryRepository struct {
	mu          sync.RWMutex
	roles       map[uuid.UUID]*Role
	permissions map[uuid.UUID]*Permission
	assignments map[uuid.UUID][]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles:       make(map[uuid.UUID]*Role),
		permissions: make(map[uuid.UUID]*Permission),
		assignments: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *MemoryRepository) FindRoleByID(_ context.Context, id uuid.UUID) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	cp := *role
	return &cp, nil
}

func (r *MemoryRepository) FindRoleByName(_ context.Context, name RoleName) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, ErrRoleNotFound
}

func (r *MemoryRepository) FindRoleWithPermissions(ctx context.Context, id uuid.UUID) (*Role, error) {
	role, err := r.FindRoleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pid := range r.assignments[id] {
		if p, ok := r.permissions[pid]; ok {
			cp := *p
			role.Permissions = append(role.Permissions, &cp)
		}
	}
	return role, nil
}

func (r *MemoryRepository) ListRoles(_ context.Context) ([]*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]*Role, 0, len(r.roles))
	for _, role := range r.roles {
		cp := *role
		roles = append(roles, &cp)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *MemoryRepository) CreateRole(_ context.Context, role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role.ID = uuid.New()
	role.CreatedAt = time.Now().UTC()
	role.UpdatedAt = role.CreatedAt
	cp := *role
	cp.Permissions = nil
	r.roles[role.ID] = &cp
	return nil
}

func (r *MemoryRepository) FindPermissionByName(_ context.Context, name string) (*Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.permissions {
		if p.Name() == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPermissionNotFound
}

func (r *MemoryRepository) FindPermissionsByCategory(_ context.Context, category Category) ([]*Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var perms []*Permission
	for _, p := range r.permissions {
		if p.Category == category {
			cp := *p
			perms = append(perms, &cp)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name() < perms[j].Name() })
	return perms, nil
}

func (r *MemoryRepository) CreatePermission(_ context.Context, perm *Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	perm.ID = uuid.New()
	perm.CreatedAt = time.Now().UTC()
	cp := *perm
	r.permissions[perm.ID] = &cp
	return nil
}

func (r *MemoryRepository) SetRolePermissions(_ context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID, updatedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	for _, pid := range permissionIDs {
		if _, ok := r.permissions[pid]; !ok {
			return ErrPermissionNotFound
		}
	}
	r.assignments[roleID] = append([]uuid.UUID(nil), permissionIDs...)
	role.UpdatedBy = updatedBy
	role.UpdatedAt = time.Now().UTC()
	return nil
}
