package registryclient

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/codepush/internal/platform/env"
)

// Config holds the registry endpoint and credentials. Token takes precedence
// over the client-credentials settings; with neither the client sends no
// Authorization header, which suits registries running with AUTH_MODE=dev.
type Config struct {
	BaseURL string
	Timeout time.Duration

	Token string

	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("CODEPUSH_HTTP_TIMEOUT", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	return Config{
		BaseURL:      env.String("CODEPUSH_REGISTRY_URL", ""),
		Timeout:      timeout,
		Token:        env.Secret("CODEPUSH_TOKEN"),
		ClientID:     env.String("CODEPUSH_CLIENT_ID", ""),
		ClientSecret: env.Secret("CODEPUSH_CLIENT_SECRET"),
		TokenURL:     env.String("CODEPUSH_TOKEN_URL", ""),
		Scopes:       strings.Fields(env.String("CODEPUSH_TOKEN_SCOPES", "")),
	}, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("registry url is required (--registry-url or CODEPUSH_REGISTRY_URL)")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("registry url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("registry url must be http or https (got %q)", c.BaseURL)
	}
	if c.Timeout < 0 {
		return errors.New("CODEPUSH_HTTP_TIMEOUT must be >= 0")
	}
	if c.Token == "" && c.ClientID != "" {
		if c.ClientSecret == "" {
			return errors.New("CODEPUSH_CLIENT_SECRET is required with CODEPUSH_CLIENT_ID")
		}
		if c.TokenURL == "" {
			return errors.New("CODEPUSH_TOKEN_URL is required with CODEPUSH_CLIENT_ID")
		}
	}
	return nil
}
