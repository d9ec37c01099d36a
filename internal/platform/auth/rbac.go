package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Role is a registry permission level. Viewers list and download; publishers
// additionally create applications, releases and artifacts.
type Role string

const (
	RoleViewer    Role = "viewer"
	RolePublisher Role = "publisher"
	RoleAdmin     Role = "admin"
)

// rank orders roles; unknown roles rank zero and grant nothing.
func (r Role) rank() int {
	switch Role(strings.ToLower(strings.TrimSpace(string(r)))) {
	case RoleViewer:
		return 1
	case RolePublisher:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Satisfies reports whether r grants at least required.
func (r Role) Satisfies(required Role) bool {
	return required.rank() > 0 && r.rank() >= required.rank()
}

// RoleError is returned when an identity lacks Required.
type RoleError struct {
	Required Role
}

func (e *RoleError) Error() string { return fmt.Sprintf("role %s required", e.Required) }

func (e *RoleError) Unwrap() error { return ErrForbidden }

// RequiredRole is the minimum role for r: reads need viewer, writes publisher.
func RequiredRole(r *http.Request) Role {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RolePublisher
	}
}

// MethodRoleAuthorizer enforces RequiredRole.
func MethodRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		required := RequiredRole(r)
		if identity.Has(required) {
			return nil
		}
		return &RoleError{Required: required}
	}
}
