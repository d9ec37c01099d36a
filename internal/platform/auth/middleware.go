package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/codepush/internal/platform/requestid"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

// DenyEvent describes a refused request for the audit log.
type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Subject    string
	Email      string
	Roles      []string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

// Middleware authenticates every request outside SkipPrefixes, applies
// Authorize and stores the Identity on the request context. Refusals are
// logged, passed to Audit and answered with a JSON error body.
type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	Audit         AuditFunc
	SkipPrefixes  []string
}

// denial is one way a request can be refused. reason is recorded in logs and
// audit rows, code is returned to the client.
type denial struct {
	status int
	reason string
	code   string
}

var (
	denyMissingToken = denial{http.StatusUnauthorized, "unauthenticated", "unauthorized"}
	denyBadToken     = denial{http.StatusUnauthorized, "invalid_token", "invalid_token"}
	denyRole         = denial{http.StatusForbidden, "forbidden", "forbidden"}
)

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			d := denyBadToken
			if errors.Is(err, ErrUnauthenticated) {
				d = denyMissingToken
			}
			m.deny(w, r, Identity{}, d, err)
			return
		}
		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.deny(w, r, identity, denyRole, err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

// skip matches a prefix exactly or as a path segment, so "/healthz" does not
// also expose "/healthzfoo".
func (m Middleware) skip(path string) bool {
	for _, prefix := range m.SkipPrefixes {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, identity Identity, d denial, err error) {
	rid := r.Header.Get(requestid.Header)
	if m.Logger != nil {
		m.Logger.LogAttrs(r.Context(), slog.LevelWarn, "request denied",
			slog.String("reason", d.reason),
			slog.Int("status", d.status),
			slog.String("request_id", rid),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("subject", identity.Subject),
			slog.String("error", err.Error()),
		)
	}
	if m.Audit != nil {
		auditErr := m.Audit(r.Context(), DenyEvent{
			Time:       time.Now().UTC(),
			Status:     d.status,
			Reason:     d.reason,
			Error:      err.Error(),
			RequestID:  rid,
			Method:     r.Method,
			Path:       r.URL.Path,
			Subject:    identity.Subject,
			Email:      identity.Email,
			Roles:      identity.Roles,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
		if auditErr != nil && m.Logger != nil {
			m.Logger.Warn("audit deny failed", "request_id", rid, "error", auditErr)
		}
	}

	body := map[string]any{"error": d.code, "request_id": rid}
	if d.status == http.StatusUnauthorized {
		challenge := `Bearer realm="release-registry"`
		if d == denyBadToken {
			challenge += `, error="invalid_token"`
		}
		w.Header().Set("WWW-Authenticate", challenge)
	}
	var roleErr *RoleError
	if errors.As(err, &roleErr) {
		body["required_role"] = string(roleErr.Required)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.status)
	_ = json.NewEncoder(w).Encode(body)
}
