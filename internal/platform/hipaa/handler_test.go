package hipaa

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/rbac"
)

func newHandlerServer(t *testing.T) (*echo.Echo, *complianceFixture) {
	t.Helper()
	f := newComplianceFixture(t)
	e := echo.New()
	NewHandler(f.mgr, f.authz).RegisterRoutes(e.Group("/api/v1"))
	return e, f
}

func do(e *echo.Echo, method, path, body string, user *auth.User) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ProtectThenReveal(t *testing.T) {
	e, f := newHandlerServer(t)
	admin := f.user(t, "a-1", rbac.RoleAdministrator)

	rec := do(e, http.MethodPost, "/api/v1/compliance/protect", `{"data":{"id":"c-1","ssn":"123-45-6789"}}`, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("protect: %d %s", rec.Code, rec.Body.String())
	}
	var protected struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &protected); err != nil {
		t.Fatal(err)
	}
	if _, ok := AsEncryptedField(protected.Data["ssn"]); !ok {
		t.Fatalf("ssn not encrypted: %v", protected.Data["ssn"])
	}

	body, _ := json.Marshal(map[string]any{"data": protected.Data})
	rec = do(e, http.MethodPost, "/api/v1/compliance/reveal", string(body), admin)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "123-45-6789") {
		t.Fatalf("reveal: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/compliance/reveal", string(body), f.user(t, "p-1", rbac.RoleProgramManager))
	if rec.Code != http.StatusForbidden {
		t.Errorf("program_manager reveal: expected 403, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "123-45-6789") {
		t.Error("denied response leaked plaintext")
	}
}

func TestHandler_RevealCryptoFailureIsGeneric(t *testing.T) {
	e, f := newHandlerServer(t)
	foreign, _ := EncryptObject(map[string]any{"ssn": "123-45-6789"}, PHIFields(), testKey(t))
	body, _ := json.Marshal(map[string]any{"data": foreign})

	rec := do(e, http.MethodPost, "/api/v1/compliance/reveal", string(body), f.user(t, "a-1", rbac.RoleAdministrator))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "authentication") || strings.Contains(rec.Body.String(), "cipher") {
		t.Errorf("crypto detail leaked: %s", rec.Body.String())
	}
}

func TestHandler_RequiresUser(t *testing.T) {
	e, _ := newHandlerServer(t)
	rec := do(e, http.MethodPost, "/api/v1/compliance/mask", `{"data":{"ssn":"123-45-6789"}}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_MissingData(t *testing.T) {
	e, f := newHandlerServer(t)
	rec := do(e, http.MethodPost, "/api/v1/compliance/mask", `{}`, f.user(t, "a-1", rbac.RoleAdministrator))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Mask(t *testing.T) {
	e, f := newHandlerServer(t)
	rec := do(e, http.MethodPost, "/api/v1/compliance/mask", `{"data":{"ssn":"123-45-6789"}}`, f.user(t, "b-1", rbac.RoleBillingSpecialist))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "XXX-XX-6789") {
		t.Errorf("unexpected mask response %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_MinimumNecessary(t *testing.T) {
	e, f := newHandlerServer(t)
	rec := do(e, http.MethodPost, "/api/v1/compliance/minimum-necessary",
		`{"data":{"id":"c-1","ssn":"123-45-6789"},"fields":["id"]}`, f.user(t, "r-1", rbac.RoleReadOnly))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "ssn") || !strings.Contains(rec.Body.String(), "c-1") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ReportRequiresReportsRead(t *testing.T) {
	e, f := newHandlerServer(t)

	rec := do(e, http.MethodGet, "/api/v1/compliance/report", "", f.user(t, "p-1", rbac.RoleProgramManager))
	if rec.Code != http.StatusOK {
		t.Errorf("program_manager holds REPORTS:READ, got %d", rec.Code)
	}

	noReports := &auth.User{ID: "x", Permissions: []string{"CLAIMS:READ"}}
	rec = do(e, http.MethodGet, "/api/v1/compliance/report", "", noReports)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "REPORTS:READ") {
		t.Errorf("expected 403 naming REPORTS:READ, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/compliance/report?from=yesterday", "", f.user(t, "a-1", rbac.RoleAdministrator))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad from, got %d", rec.Code)
	}
}

func TestHandler_Retention(t *testing.T) {
	e, f := newHandlerServer(t)
	admin := f.user(t, "a-1", rbac.RoleAdministrator)

	rec := do(e, http.MethodGet, "/api/v1/compliance/retention-policies", "", admin)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "audit_log") {
		t.Errorf("unexpected policies response %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/compliance/retention-status?record_type=claim&created_at=2020-01-01T00:00:00Z", "", admin)
	if rec.Code != http.StatusOK {
		t.Errorf("unexpected status %d", rec.Code)
	}

	for _, q := range []string{"?created_at=2020-01-01T00:00:00Z", "?record_type=claim&created_at=bad"} {
		rec = do(e, http.MethodGet, "/api/v1/compliance/retention-status"+q, "", admin)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestHandler_Fields(t *testing.T) {
	e, f := newHandlerServer(t)
	rec := do(e, http.MethodGet, "/api/v1/compliance/fields", "", f.user(t, "a-1", rbac.RoleAdministrator))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "medicalRecordNumber") {
		t.Errorf("unexpected fields response %d %s", rec.Code, rec.Body.String())
	}
}
