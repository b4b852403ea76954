package rbac

// AllCategories lists the nine functional categories in display order.
func AllCategories() []Category {
	return []Category{
		CategoryUsers,
		CategoryClients,
		CategoryServices,
		CategoryClaims,
		CategoryBilling,
		CategoryPayments,
		CategoryReports,
		CategorySettings,
		CategorySystem,
	}
}

// StandardActions are seeded for every functional category.
func StandardActions() []Action {
	return []Action{
		ActionCreate,
		ActionRead,
		ActionUpdate,
		ActionDelete,
		ActionApprove,
		ActionExport,
		ActionManage,
	}
}

// SystemRoles lists the roles created at bootstrap.
func SystemRoles() []RoleName {
	return []RoleName{
		RoleAdministrator,
		RoleFinancialManager,
		RoleBillingSpecialist,
		RoleProgramManager,
		RoleReadOnly,
	}
}

// DefaultRoleCategories is the bootstrap role to category table. It is the
// single source of truth for default permission assignment.
func DefaultRoleCategories() map[RoleName][]Category {
	return map[RoleName][]Category{
		RoleAdministrator: AllCategories(),
		RoleFinancialManager: {
			CategoryClients, CategoryServices, CategoryClaims, CategoryBilling,
			CategoryPayments, CategoryReports, CategorySettings,
		},
		RoleBillingSpecialist: {
			CategoryClients, CategoryServices, CategoryClaims, CategoryBilling,
			CategoryPayments, CategoryReports,
		},
		RoleProgramManager: {
			CategoryClients, CategoryServices, CategoryReports,
		},
		RoleReadOnly: {
			CategoryClients, CategoryServices, CategoryClaims, CategoryBilling,
			CategoryPayments, CategoryReports,
		},
	}
}

// DefaultRoleActions returns the actions a role receives inside each of its
// categories. read_only is limited to reads.
func DefaultRoleActions(role RoleName) []Action {
	if role == RoleReadOnly {
		return []Action{ActionRead}
	}
	return StandardActions()
}

// Compliance permission names checked by the HIPAA layer.
var (
	PermissionPHIView          = BuildPermissionName(CategoryPHI, ActionView, "")
	PermissionMinimumNecessary = BuildPermissionName(CategoryData, ActionMinimumNecessary, "")
)

// ComplianceGrant pairs a compliance permission with the roles that hold it.
type ComplianceGrant struct {
	Category Category
	Action   Action
	Roles    []RoleName
}

// DefaultComplianceGrants returns the PHI and minimum-necessary grants seeded
// next to the category table.
func DefaultComplianceGrants() []ComplianceGrant {
	return []ComplianceGrant{
		{
			Category: CategoryPHI,
			Action:   ActionView,
			Roles:    []RoleName{RoleAdministrator, RoleFinancialManager, RoleBillingSpecialist},
		},
		{
			Category: CategoryData,
			Action:   ActionMinimumNecessary,
			Roles:    SystemRoles(),
		},
	}
}

var roleDescriptions = map[RoleName]string{
	RoleAdministrator:     "Full access to every category",
	RoleFinancialManager:  "Manages claims, billing, payments, reports and settings",
	RoleBillingSpecialist: "Works claims, billing and payments",
	RoleProgramManager:    "Manages clients and services and reads reports",
	RoleReadOnly:          "Read-only access to operational data",
}

// defaultPermissionsFor expands the bootstrap tables into the permission
// names a role should hold.
func defaultPermissionsFor(role RoleName) []string {
	var names []string
	for _, cat := range DefaultRoleCategories()[role] {
		for _, act := range DefaultRoleActions(role) {
			names = append(names, BuildPermissionName(cat, act, ""))
		}
	}
	for _, g := range DefaultComplianceGrants() {
		for _, r := range g.Roles {
			if r == role {
				names = append(names, BuildPermissionName(g.Category, g.Action, ""))
				break
			}
		}
	}
	return names
}
