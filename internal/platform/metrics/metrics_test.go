package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_Idempotent(t *testing.T) {
	Register()
	Register()
}

func TestMiddleware_CountsByRoute(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles/123", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/v1/roles/:id")

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/roles/:id", "200"))
	err := Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/roles/:id", "200"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/x", nil), httptest.NewRecorder())
	c.SetPath("/x")

	before403 := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/x", "403"))
	before500 := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/x", "500"))

	_ = Middleware()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "nope")
	})(c)
	_ = Middleware()(func(c echo.Context) error {
		return errors.New("boom")
	})(c)

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/x", "403")) - before403; got != 1 {
		t.Errorf("expected one 403, got %v", got)
	}
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/x", "500")) - before500; got != 1 {
		t.Errorf("expected one 500, got %v", got)
	}
}

func TestHandler_ExposesCollectors(t *testing.T) {
	Register()
	RBACCacheLookups.WithLabelValues("role", "hit").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rcm_rbac_cache_lookups_total") {
		t.Error("expected rbac cache metric in exposition")
	}
}
