package hipaa

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/authz"
	"github.com/rcm/rcm/internal/platform/rbac"
)

// Handler exposes the compliance manager over HTTP.
type Handler struct {
	mgr   *ComplianceManager
	authz *authz.Manager
}

func NewHandler(mgr *ComplianceManager, authzMgr *authz.Manager) *Handler {
	return &Handler{mgr: mgr, authz: authzMgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/compliance")
	g.POST("/protect", h.Protect)
	g.POST("/reveal", h.Reveal)
	g.POST("/mask", h.Mask)
	g.POST("/minimum-necessary", h.MinimumNecessary)
	g.GET("/fields", h.Fields)

	reports := g.Group("", authz.RequirePermission(h.authz, rbac.CategoryReports, rbac.ActionRead))
	reports.GET("/report", h.Report)
	reports.GET("/retention-policies", h.ListRetentionPolicies)
	reports.GET("/retention-status", h.RetentionStatus)
}

type recordRequest struct {
	Data   map[string]any `json:"data"`
	Fields []string       `json:"fields,omitempty"`
}

func bindRecord(c echo.Context) (*recordRequest, error) {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Data == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "data is required")
	}
	return &req, nil
}

func requireUser(c echo.Context) (*auth.User, error) {
	user := auth.UserFromContext(c.Request().Context())
	if user == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return user, nil
}

// cryptoHTTPError hides crypto detail from clients.
func cryptoHTTPError(err error) error {
	var ce *CryptoError
	if errors.As(err, &ce) {
		return echo.NewHTTPError(http.StatusInternalServerError, "unable to process protected data")
	}
	return authz.HTTPError(err)
}

// Protect handles POST /compliance/protect.
func (h *Handler) Protect(c echo.Context) error {
	if _, err := requireUser(c); err != nil {
		return err
	}
	req, err := bindRecord(c)
	if err != nil {
		return err
	}
	out, err := h.mgr.ProtectPHI(c.Request().Context(), req.Data, req.Fields...)
	if err != nil {
		return cryptoHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

// Reveal handles POST /compliance/reveal.
func (h *Handler) Reveal(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	req, err := bindRecord(c)
	if err != nil {
		return err
	}
	out, err := h.mgr.RevealPHI(c.Request().Context(), user, req.Data, req.Fields...)
	if err != nil {
		return cryptoHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

// Mask handles POST /compliance/mask.
func (h *Handler) Mask(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	req, err := bindRecord(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": h.mgr.MaskPHI(user, req.Data)})
}

// MinimumNecessary handles POST /compliance/minimum-necessary. Fields lists
// the allowed keys.
func (h *Handler) MinimumNecessary(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	req, err := bindRecord(c)
	if err != nil {
		return err
	}
	out := h.mgr.EnforceMinimumNecessary(c.Request().Context(), user, req.Data, req.Fields)
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

// Fields handles GET /compliance/fields.
func (h *Handler) Fields(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"phi": h.mgr.PHIFields(),
		"pii": h.mgr.PIIFields(),
	})
}

// Report handles GET /compliance/report?from=&to= (RFC3339). The period
// defaults to the last 30 days.
func (h *Handler) Report(c echo.Context) error {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	var err error
	if v := c.QueryParam("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from: expected RFC3339")
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to: expected RFC3339")
		}
	}
	if to.Before(from) {
		return echo.NewHTTPError(http.StatusBadRequest, "to must not be before from")
	}

	report, err := h.mgr.GenerateComplianceReport(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate compliance report")
	}
	return c.JSON(http.StatusOK, report)
}

// ListRetentionPolicies handles GET /compliance/retention-policies.
func (h *Handler) ListRetentionPolicies(c echo.Context) error {
	policies := h.mgr.RetentionPolicies()
	return c.JSON(http.StatusOK, map[string]any{
		"policies": policies,
		"total":    len(policies),
	})
}

// RetentionStatus handles GET /compliance/retention-status?record_type=&created_at=.
func (h *Handler) RetentionStatus(c echo.Context) error {
	recordType := c.QueryParam("record_type")
	if recordType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "record_type is required")
	}
	createdAt, err := time.Parse(time.RFC3339, c.QueryParam("created_at"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid created_at: expected RFC3339")
	}
	return c.JSON(http.StatusOK, h.mgr.EvaluateRetention(recordType, createdAt))
}
