package access

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/audit"
	"github.com/rcm/rcm/internal/platform/authz"
	"github.com/rcm/rcm/internal/platform/rbac"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	rm := rbac.NewManager(rbac.NewMemoryRepository(), nil, zerolog.Nop())
	if err := rm.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	al := audit.NewLoggerWithWriter(audit.NewMemoryRepository(), nil, &bytes.Buffer{}, zerolog.Nop())
	return NewService(rm, authz.NewManager(rm, zerolog.Nop()), al, zerolog.Nop())
}

func TestService_GetRoleNotFound(t *testing.T) {
	s := newTestService(t)
	if _, err := s.GetRole(context.Background(), uuid.New()); !errors.Is(err, rbac.ErrRoleNotFound) {
		t.Errorf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestService_AccessFor(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.AccessFor(ctx, nil); !errors.Is(err, authz.ErrPermissionDenied) {
		t.Errorf("nil user: expected ErrPermissionDenied, got %v", err)
	}

	f := &fixture{rbac: s.rbac}
	acc, err := s.AccessFor(ctx, f.user(t, "a", rbac.RoleAdministrator))
	if err != nil {
		t.Fatal(err)
	}
	if !acc.IsAdministrator || acc.MaskingLevel != "none" || !acc.ACL["phi/view"] {
		t.Errorf("unexpected administrator access %+v", acc)
	}

	acc, err = s.AccessFor(ctx, f.user(t, "r", rbac.RoleReadOnly))
	if err != nil {
		t.Fatal(err)
	}
	if acc.MaskingLevel != "full" || acc.ACL["phi/view"] || !acc.ACL["data/minimum_necessary"] {
		t.Errorf("unexpected read_only access %+v", acc)
	}
}
