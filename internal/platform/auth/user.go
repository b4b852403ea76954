package auth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const userKey contextKey = "auth_user"

// User is the authenticated principal attached to a request. It is built by
// the auth middleware from token claims plus the role's current permissions
// and is never persisted.
type User struct {
	ID          string    `json:"id"`
	RoleID      uuid.UUID `json:"role_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	Name        string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}

// UserIDFromContext returns the authenticated user's id, or "".
func UserIDFromContext(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}

// PermissionResolver supplies the role data the middleware needs to build a
// User. The RBAC manager implements it.
type PermissionResolver interface {
	RoleName(ctx context.Context, roleID uuid.UUID) (string, error)
	RoleIDByName(ctx context.Context, name string) (uuid.UUID, error)
	PermissionNames(ctx context.Context, roleID uuid.UUID) ([]string, error)
}
