package rbac

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoleName is one of the fixed system roles.
type RoleName string

const (
	RoleAdministrator     RoleName = "administrator"
	RoleFinancialManager  RoleName = "financial_manager"
	RoleBillingSpecialist RoleName = "billing_specialist"
	RoleProgramManager    RoleName = "program_manager"
	RoleReadOnly          RoleName = "read_only"
)

// Category groups permissions by functional area.
type Category string

const (
	CategoryUsers    Category = "users"
	CategoryClients  Category = "clients"
	CategoryServices Category = "services"
	CategoryClaims   Category = "claims"
	CategoryBilling  Category = "billing"
	CategoryPayments Category = "payments"
	CategoryReports  Category = "reports"
	CategorySettings Category = "settings"
	CategorySystem   Category = "system"

	// Compliance categories. They are granted separately from the
	// role/category table.
	CategoryPHI  Category = "phi"
	CategoryData Category = "data"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	if c == CategoryPHI || c == CategoryData {
		return true
	}
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Action is the verb half of a permission.
type Action string

const (
	ActionCreate           Action = "create"
	ActionRead             Action = "read"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionApprove          Action = "approve"
	ActionExport           Action = "export"
	ActionManage           Action = "manage"
	ActionView             Action = "view"
	ActionMinimumNecessary Action = "minimum_necessary"
)

// Permission grants Action on Category, optionally narrowed to one Resource.
// A permission without a resource covers every resource of the category.
type Permission struct {
	ID          uuid.UUID `json:"id"`
	Category    Category  `json:"category"`
	Action      Action    `json:"action"`
	Resource    string    `json:"resource,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name returns the canonical CATEGORY:ACTION[:RESOURCE] form.
func (p *Permission) Name() string {
	return BuildPermissionName(p.Category, p.Action, p.Resource)
}

// ACLKey returns the lowercased category/action[/resource] form used by
// access-control lists.
func (p *Permission) ACLKey() string {
	parts := []string{string(p.Category), string(p.Action)}
	if p.Resource != "" {
		parts = append(parts, p.Resource)
	}
	return strings.ToLower(strings.Join(parts, "/"))
}

// Role is a named set of permissions.
type Role struct {
	ID          uuid.UUID     `json:"id"`
	Name        RoleName      `json:"name"`
	Description string        `json:"description,omitempty"`
	IsSystem    bool          `json:"is_system"`
	Permissions []*Permission `json:"permissions"`
	UpdatedBy   string        `json:"updated_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// HasPermission reports whether the role carries the named permission.
func (r *Role) HasPermission(name string) bool {
	for _, p := range r.Permissions {
		if p.Name() == name {
			return true
		}
	}
	return false
}

// PermissionNames returns the flat list of permission names on the role.
func (r *Role) PermissionNames() []string {
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name())
	}
	return names
}

// BuildPermissionName formats CATEGORY:ACTION[:RESOURCE], uppercasing every
// part. It is the single formatter shared by the RBAC and authorization
// layers; wildcard matching depends on both producing identical strings.
func BuildPermissionName(category Category, action Action, resource string) string {
	name := strings.ToUpper(string(category)) + ":" + strings.ToUpper(string(action))
	if resource != "" {
		name += ":" + strings.ToUpper(resource)
	}
	return name
}
