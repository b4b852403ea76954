package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10MB", 10 << 20},
		{"512K", 512 << 10},
		{"512kb", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
		{"-5", 1 << 20},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.input); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func bodyLimitRun(t *testing.T, mw echo.MiddlewareFunc, path string, body []byte, contentLength int64) (bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if contentLength != 0 {
		req.ContentLength = contentLength
	}
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	return called, err
}

func assert413(t *testing.T, err error) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	called, err := bodyLimitRun(t, BodyLimit("1K", "1M"), "/api/v1/roles", []byte(`{"permission_ids":[]}`), 0)
	if err != nil || !called {
		t.Fatalf("expected handler to run, called=%v err=%v", called, err)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	called, err := bodyLimitRun(t, BodyLimit("1K", "1M"), "/api/v1/roles", bytes.Repeat([]byte("x"), 2048), 0)
	if called {
		t.Error("handler must not run")
	}
	assert413(t, err)
	if !strings.Contains(err.Error(), "1024 bytes") {
		t.Errorf("message should name the limit: %v", err)
	}
}

func TestBodyLimit_ComplianceRoutesUseRecordLimit(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 2048)
	called, err := bodyLimitRun(t, BodyLimit("1K", "1M"), "/api/v1/compliance/protect", body, 0)
	if err != nil || !called {
		t.Fatalf("record limit should allow 2K, called=%v err=%v", called, err)
	}

	_, err = bodyLimitRun(t, BodyLimit("512", "1K"), "/api/v1/compliance/protect", body, 0)
	assert413(t, err)
}

func TestBodyLimit_SkipsEmptyBody(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil), httptest.NewRecorder())
	called := false
	err := BodyLimit("1", "1")(func(echo.Context) error {
		called = true
		return nil
	})(c)
	if err != nil || !called {
		t.Errorf("GET without body should pass, called=%v err=%v", called, err)
	}
}

func TestBodyLimit_EnforcedDuringRead(t *testing.T) {
	called, err := bodyLimitRun(t, BodyLimit("512", "1M"), "/api/v1/roles", bytes.Repeat([]byte("a"), 1024), -1)
	if !called {
		t.Fatal("unknown length must reach the handler")
	}
	assert413(t, err)
}
