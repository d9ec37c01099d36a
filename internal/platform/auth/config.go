package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/animus-labs/codepush/internal/platform/env"
)

// Mode selects how release-registry authenticates bearer tokens.
type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	// Claim names read from verified tokens.
	RolesClaim string
	EmailClaim string

	OIDCIssuerURL string
	OIDCAudience  string

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

// ConfigFromEnv reads AUTH_*, OIDC_* and DEV_AUTH_* variables. OIDC_AUDIENCE
// falls back to OIDC_CLIENT_ID since most issuers mint aud=client_id.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Mode:          Mode(strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeOIDC))))),
		RolesClaim:    env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:    env.String("AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL: env.String("OIDC_ISSUER_URL", ""),
		OIDCAudience:  env.String("OIDC_AUDIENCE", env.String("OIDC_CLIENT_ID", "")),
		DevSubject:    env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:      env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:      splitRoles(env.String("DEV_AUTH_ROLES", string(RoleAdmin))),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	required := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	required(c.RolesClaim, "AUTH_ROLES_CLAIM")
	required(c.EmailClaim, "AUTH_EMAIL_CLAIM")

	switch c.Mode {
	case ModeOIDC:
		required(c.OIDCIssuerURL, "OIDC_ISSUER_URL")
		required(c.OIDCAudience, "OIDC_AUDIENCE (or OIDC_CLIENT_ID)")
	case ModeDev:
		required(c.DevSubject, "DEV_AUTH_SUBJECT")
		if len(c.DevRoles) == 0 {
			errs = append(errs, errors.New("DEV_AUTH_ROLES must name at least one role"))
		}
		for _, role := range c.DevRoles {
			if Role(role).rank() == 0 {
				errs = append(errs, fmt.Errorf("DEV_AUTH_ROLES: unknown role %q (want viewer, publisher or admin)", role))
			}
		}
	case ModeDisabled:
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be oidc, dev or disabled (got %q)", c.Mode))
	}
	return errors.Join(errs...)
}

// splitRoles parses a comma separated role list, lowercased and deduplicated
// in first-seen order.
func splitRoles(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		role := strings.ToLower(strings.TrimSpace(part))
		if role != "" && !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	return out
}
