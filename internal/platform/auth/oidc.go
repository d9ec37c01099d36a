package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// BearerVerifier checks Authorization: Bearer tokens against an OIDC issuer.
// Publishers obtain these through the client-credentials grant.
type BearerVerifier struct {
	cfg      Config
	verifier *oidc.IDTokenVerifier
}

func NewBearerVerifier(ctx context.Context, cfg Config) (*BearerVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return newBearerVerifier(cfg, provider.Verifier(&oidc.Config{ClientID: cfg.OIDCAudience})), nil
}

func newBearerVerifier(cfg Config, verifier *oidc.IDTokenVerifier) *BearerVerifier {
	return &BearerVerifier{cfg: cfg, verifier: verifier}
}

func (v *BearerVerifier) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return Identity{}, err
	}

	return Identity{
		Subject: token.Subject,
		Email:   stringClaim(claims, v.cfg.EmailClaim),
		Roles:   rolesClaim(claims, v.cfg.RolesClaim),
	}, nil
}

func tokenFromHeader(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

func rolesClaim(claims map[string]any, key string) []string {
	switch typed := claims[key].(type) {
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return splitRoles(typed)
	default:
		return nil
	}
}
