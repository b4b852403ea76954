package authz

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPermissionDenied matches every *PermissionDeniedError via errors.Is.
var ErrPermissionDenied = errors.New("permission denied")

// PermissionDeniedError names what the caller was missing. Permission names
// are not secret, so the message is safe to return to clients.
type PermissionDeniedError struct {
	UserID      string
	Permissions []string
	ResourceID  string
	Reason      string
}

func (e *PermissionDeniedError) Error() string {
	var b strings.Builder
	b.WriteString("permission denied")
	if len(e.Permissions) > 0 {
		fmt.Fprintf(&b, ": requires %s", strings.Join(e.Permissions, " or "))
	}
	if e.ResourceID != "" {
		fmt.Fprintf(&b, " on resource %s", e.ResourceID)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	return b.String()
}

func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}
