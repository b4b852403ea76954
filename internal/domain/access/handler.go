package access

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/authz"
	"github.com/rcm/rcm/internal/platform/rbac"
)

type Handler struct {
	svc   *Service
	authz *authz.Manager
}

func NewHandler(svc *Service, authzMgr *authz.Manager) *Handler {
	return &Handler{svc: svc, authz: authzMgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", authz.RequirePermission(h.authz, rbac.CategorySettings, rbac.ActionRead))
	read.GET("/roles", h.ListRoles)
	read.GET("/roles/:id", h.GetRole)
	read.GET("/permissions", h.ListPermissions)

	write := api.Group("", authz.RequirePermission(h.authz, rbac.CategorySettings, rbac.ActionUpdate))
	write.PUT("/roles/:id/permissions", h.AssignPermissions)

	manage := api.Group("", authz.RequirePermission(h.authz, rbac.CategorySystem, rbac.ActionManage))
	manage.POST("/rbac/cache/clear", h.ClearCache)

	api.GET("/me/access", h.MyAccess)
}

func (h *Handler) ListRoles(c echo.Context) error {
	roles, err := h.svc.ListRoles(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list roles")
	}
	return c.JSON(http.StatusOK, map[string]any{"data": roles, "total": len(roles)})
}

func (h *Handler) GetRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, err := h.svc.GetRole(c.Request().Context(), id)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "role not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load role")
	}
	return c.JSON(http.StatusOK, role)
}

// ListPermissions handles GET /permissions?category=claims.
func (h *Handler) ListPermissions(c echo.Context) error {
	category := rbac.Category(strings.ToLower(c.QueryParam("category")))
	if !category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
	}
	perms, err := h.svc.rbac.PermissionsByCategory(c.Request().Context(), category)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list permissions")
	}
	return c.JSON(http.StatusOK, map[string]any{"data": perms, "total": len(perms)})
}

type assignRequest struct {
	PermissionIDs []uuid.UUID `json:"permission_ids"`
}

// AssignPermissions handles PUT /roles/:id/permissions. The body replaces
// the role's permission set.
func (h *Handler) AssignPermissions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PermissionIDs == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "permission_ids is required")
	}

	user := auth.UserFromContext(c.Request().Context())
	role, err := h.svc.AssignPermissions(c.Request().Context(), user, id, req.PermissionIDs)
	switch {
	case errors.Is(err, rbac.ErrRoleNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "role not found")
	case errors.Is(err, rbac.ErrPermissionNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, "unknown permission id")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update role permissions")
	}
	return c.JSON(http.StatusOK, role)
}

func (h *Handler) ClearCache(c echo.Context) error {
	h.svc.ClearCache(c.Request().Context(), auth.UserFromContext(c.Request().Context()))
	return c.NoContent(http.StatusNoContent)
}

// MyAccess handles GET /me/access.
func (h *Handler) MyAccess(c echo.Context) error {
	user := auth.UserFromContext(c.Request().Context())
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	acc, err := h.svc.AccessFor(c.Request().Context(), user)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve access")
	}
	return c.JSON(http.StatusOK, acc)
}
