package authz

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/rbac"
)

// RequirePermission rejects requests whose user lacks category:action with
// 403 naming the missing permission.
func RequirePermission(m *Manager, category rbac.Category, action rbac.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			user := auth.UserFromContext(ctx)
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if err := m.EnforcePermissionForAction(ctx, user, category, action, ""); err != nil {
				return HTTPError(err)
			}
			return next(c)
		}
	}
}

// RequireAdministrator rejects non-administrators with 403.
func RequireAdministrator(m *Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			user := auth.UserFromContext(ctx)
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if err := m.EnforceAdministrator(ctx, user); err != nil {
				return HTTPError(err)
			}
			return next(c)
		}
	}
}

// HTTPError maps a permission denial to 403 carrying the denial message.
// Other errors pass through unchanged.
func HTTPError(err error) error {
	var denied *PermissionDeniedError
	if errors.As(err, &denied) {
		return echo.NewHTTPError(http.StatusForbidden, denied.Error())
	}
	return err
}
