package auth

import (
	"context"
	"net/http"
)

// Identity is the authenticated caller. Subject becomes the actor on audit
// rows and the created_by of registry records.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

// Has reports whether any of the identity's roles satisfies required.
func (i Identity) Has(required Role) bool {
	for _, role := range i.Roles {
		if Role(role).Satisfies(required) {
			return true
		}
	}
	return false
}

type identityKey struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey{}).(Identity)
	return v, ok
}

// Actor names the caller for audit rows and created_by columns.
func Actor(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok && identity.Subject != "" {
		return identity.Subject
	}
	return "anonymous"
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// DevAuthenticator accepts every request as one fixed identity. It exists for
// local runs of release-registry and is selected by AUTH_MODE=dev.
type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{identity: Identity{Subject: cfg.DevSubject, Email: cfg.DevEmail, Roles: cfg.DevRoles}}
}

func (a *DevAuthenticator) Authenticate(context.Context, *http.Request) (Identity, error) {
	return a.identity, nil
}
