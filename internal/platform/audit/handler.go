package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/authz"
	"github.com/rcm/rcm/internal/platform/rbac"
	"github.com/rcm/rcm/pkg/pagination"
)

// Handler serves audit search, export and summary endpoints.
type Handler struct {
	repo   Repository
	logger *Logger
	authz  *authz.Manager
}

func NewHandler(repo Repository, logger *Logger, mgr *authz.Manager) *Handler {
	return &Handler{repo: repo, logger: logger, authz: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/audit-logs", authz.RequirePermission(h.authz, rbac.CategorySystem, rbac.ActionRead))
	g.GET("", h.Search)
	g.GET("/export", h.Export)
	g.GET("/summary", h.Summary)
}

// parseFilter extracts a Filter from query parameters. Unparseable times are
// rejected.
func parseFilter(c echo.Context) (Filter, error) {
	f := Filter{
		UserID:        c.QueryParam("user_id"),
		EventType:     EventType(c.QueryParam("event_type")),
		Category:      Category(c.QueryParam("category")),
		Severity:      Severity(c.QueryParam("severity")),
		ResourceType:  c.QueryParam("resource_type"),
		ResourceID:    c.QueryParam("resource_id"),
		CorrelationID: c.QueryParam("correlation_id"),
		SortOrder:     c.QueryParam("sort_order"),
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: expected RFC3339", name))
		}
		*dst = &t
	}
	return f, nil
}

// Search handles GET /audit-logs.
func (h *Handler) Search(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f.Limit = pg.Limit
	f.Offset = pg.Offset

	page, err := h.repo.Query(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query audit logs")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(page.Entries, page.Total, page.Limit, page.Offset).
		WithLinks(c.Request().URL.Path))
}

// Export handles GET /audit-logs/export. format=json selects JSON, CSV
// otherwise. The export itself is audited.
func (h *Handler) Export(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	format := c.QueryParam("format")
	if format != "json" {
		format = "csv"
	}
	if h.logger != nil {
		h.logger.LogDataAccess(ctx, auth.UserFromContext(ctx), EventExport, "audit_log", "",
			WithMetadata(map[string]any{"format": format, "query": c.QueryString()}))
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	res := c.Response()
	if format == "json" {
		res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
		res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=\"audit_export_%s.json\"", stamp))
		res.WriteHeader(http.StatusOK)
		return ExportJSON(ctx, h.repo, f, res)
	}
	res.Header().Set(echo.HeaderContentType, "text/csv")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=\"audit_export_%s.csv\"", stamp))
	res.WriteHeader(http.StatusOK)
	return ExportCSV(ctx, h.repo, f, res)
}

// Summary handles GET /audit-logs/summary.
func (h *Handler) Summary(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	s, err := h.repo.Summarize(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to summarize audit logs")
	}
	return c.JSON(http.StatusOK, s)
}
