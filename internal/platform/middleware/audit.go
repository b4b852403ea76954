package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/audit"
	"github.com/rcm/rcm/internal/platform/auth"
)

// SecurityAuditor records security events. *audit.Logger implements it.
type SecurityAuditor interface {
	LogSecurityEvent(ctx context.Context, user *auth.User, event audit.EventType, description string, opts ...audit.Option)
}

// Audit attaches the request's IP, user agent and request id to the context
// so every audit entry written while handling it carries them. Rejected API
// requests are recorded: 401 as failed_login, 403 as access_denied unless the
// handler already recorded the denial.
func Audit(auditor SecurityAuditor) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := audit.WithRequestInfo(req.Context(), audit.RequestInfo{
				IPAddress:     c.RealIP(),
				UserAgent:     req.UserAgent(),
				CorrelationID: GetRequestID(c),
			})
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			if auditor == nil || !isAuditablePath(req.URL.Path) {
				return err
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			// The auth middleware replaces the request, so read the user
			// from the current one.
			ctx = c.Request().Context()
			user := auth.UserFromContext(ctx)
			switch status {
			case http.StatusUnauthorized:
				auditor.LogSecurityEvent(ctx, user, audit.EventFailedLogin,
					fmt.Sprintf("authentication failed: %s %s", req.Method, req.URL.Path),
					audit.WithMetadata(requestMetadata(req, status)))
			case http.StatusForbidden:
				if audit.DenialRecorded(ctx) {
					break
				}
				auditor.LogSecurityEvent(ctx, user, audit.EventAccessDenied,
					fmt.Sprintf("access denied: %s %s", req.Method, req.URL.Path),
					audit.WithMetadata(requestMetadata(req, status)))
			}
			return err
		}
	}
}

func requestMetadata(req *http.Request, status int) map[string]any {
	return map[string]any{
		"method":        req.Method,
		"path":          req.URL.Path,
		"status":        status,
		"action":        httpMethodToAction(req.Method),
		"resource_type": extractResourceType(req.URL.Path),
	}
}

// isAuditablePath returns true for API routes.
func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

// httpMethodToAction maps HTTP methods to permission actions.
func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResourceType returns the first path segment under /api/v1/:
//   - /api/v1/roles        -> roles
//   - /api/v1/audit-logs/x -> audit-logs
func extractResourceType(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}
