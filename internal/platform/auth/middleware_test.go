package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

type stubResolver struct {
	roles map[uuid.UUID]string
	perms map[uuid.UUID][]string
}

func newStubResolver() (*stubResolver, uuid.UUID, uuid.UUID) {
	admin, billing := uuid.New(), uuid.New()
	return &stubResolver{
		roles: map[uuid.UUID]string{admin: "administrator", billing: "billing_specialist"},
		perms: map[uuid.UUID][]string{
			admin:   {"*:*"},
			billing: {"CLAIMS:READ", "CLAIMS:UPDATE"},
		},
	}, admin, billing
}

func (s *stubResolver) RoleName(_ context.Context, id uuid.UUID) (string, error) {
	return s.roles[id], nil
}

func (s *stubResolver) RoleIDByName(_ context.Context, name string) (uuid.UUID, error) {
	for id, n := range s.roles {
		if n == name {
			return id, nil
		}
	}
	return uuid.Nil, errors.New("not found")
}

func (s *stubResolver) PermissionNames(_ context.Context, id uuid.UUID) ([]string, error) {
	return s.perms[id], nil
}

func createTestToken(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (*User, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got *User
	err := mw(func(c echo.Context) error {
		got = UserFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})(c)
	return got, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	r, _, _ := newStubResolver()
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}, r, zerolog.Nop()), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	r, _, _ := newStubResolver()
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey}, r, zerolog.Nop())

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer   "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, mw, tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	r, _, billing := newStubResolver()
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "rcm"}, r, zerolog.Nop())

	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "rcm",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		RoleID: billing.String(),
		Email:  "jane@example.com",
	})

	u, err := runMiddleware(t, mw, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u == nil {
		t.Fatal("expected user on context")
	}
	if u.ID != "user-42" || u.Role != "billing_specialist" || u.RoleID != billing {
		t.Errorf("unexpected user: %+v", u)
	}
	if len(u.Permissions) != 2 {
		t.Errorf("expected 2 permissions, got %v", u.Permissions)
	}
}

func TestJWTMiddleware_RoleByName(t *testing.T) {
	r, admin, _ := newStubResolver()
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey}, r, zerolog.Nop())

	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "root"},
		Role:             "administrator",
	})
	u, err := runMiddleware(t, mw, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.RoleID != admin {
		t.Errorf("expected admin role id, got %s", u.RoleID)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	r, _, billing := newStubResolver()
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "rcm"}, r, zerolog.Nop())

	tests := []struct {
		name   string
		claims Claims
	}{
		{"expired", Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "rcm", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
			RoleID:           billing.String(),
		}},
		{"wrong issuer", Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "other"},
			RoleID:           billing.String(),
		}},
		{"no role", Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "rcm"},
		}},
		{"unknown role", Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "rcm"},
			RoleID:           uuid.New().String(),
		}},
		{"malformed role id", Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "rcm"},
			RoleID:           "not-a-uuid",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, mw, "Bearer "+createTestToken(t, tt.claims))
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	r, _, billing := newStubResolver()
	mw := JWTMiddleware(JWTConfig{SigningKey: []byte("another-key")}, r, zerolog.Nop())
	tok := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}, RoleID: billing.String()})

	_, err := runMiddleware(t, mw, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_JWKSModeRejectsHS256(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer srv.Close()

	r, _, billing := newStubResolver()
	mw := JWTMiddleware(JWTConfig{JWKSURL: srv.URL}, r, zerolog.Nop())
	tok := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}, RoleID: billing.String()})

	_, err := runMiddleware(t, mw, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
	if n := fetches.Load(); n != 0 {
		t.Errorf("HS256 token must be refused before any key lookup, got %d JWKS fetches", n)
	}
}

func TestJWTMiddleware_SigningKeyModeRejectsRS256(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	r, _, billing := newStubResolver()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}, RoleID: billing.String()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	if err != nil {
		t.Fatal(err)
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey}, r, zerolog.Nop())
	_, err = runMiddleware(t, mw, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	r, _, _ := newStubResolver()
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}, r, zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/health")

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	if err != nil || !called {
		t.Fatalf("expected skipped request to reach handler, err=%v", err)
	}
}

func TestDevAuthMiddleware_DefaultsToAdministrator(t *testing.T) {
	r, admin, _ := newStubResolver()
	u, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}, r, zerolog.Nop()), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != "dev-user" || u.RoleID != admin || u.Role != "administrator" {
		t.Errorf("unexpected dev user: %+v", u)
	}
}

func TestDevAuthMiddleware_ValidatesProvidedToken(t *testing.T) {
	r, _, _ := newStubResolver()
	_, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}, r, zerolog.Nop()), "Bearer garbage")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestUserFromContext_Empty(t *testing.T) {
	if UserFromContext(context.Background()) != nil {
		t.Error("expected nil user")
	}
	if UserIDFromContext(context.Background()) != "" {
		t.Error("expected empty id")
	}
}

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/db", false},
		{"/metrics", true},
		{"/api/v1/roles", false},
		{"/", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.path, nil), httptest.NewRecorder())
			c.SetPath(tt.path)
			if got := AuthSkipper(c); got != tt.want {
				t.Errorf("AuthSkipper(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
