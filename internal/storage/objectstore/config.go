package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/codepush/internal/platform/env"
)

// Config locates the artifact bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	// CreateBucket makes Dial create a missing bucket instead of failing.
	CreateBucket bool
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("CODEPUSH_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	create, err := env.Bool("CODEPUSH_MINIO_CREATE_BUCKET", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:     env.String("CODEPUSH_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:    env.String("CODEPUSH_MINIO_ACCESS_KEY", "codepush"),
		SecretKey:    env.Secret("CODEPUSH_MINIO_SECRET_KEY"),
		Region:       env.String("CODEPUSH_MINIO_REGION", "us-east-1"),
		UseSSL:       useSSL,
		Bucket:       env.String("CODEPUSH_MINIO_BUCKET_ARTIFACTS", "release-artifacts"),
		CreateBucket: create,
	}
	return cfg, cfg.Validate()
}

// Validate reports every missing setting at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ name, value string }{
		{"CODEPUSH_MINIO_ENDPOINT", c.Endpoint},
		{"CODEPUSH_MINIO_ACCESS_KEY", c.AccessKey},
		{"CODEPUSH_MINIO_SECRET_KEY", c.SecretKey},
		{"CODEPUSH_MINIO_REGION", c.Region},
		{"CODEPUSH_MINIO_BUCKET_ARTIFACTS", c.Bucket},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if strings.Contains(c.Endpoint, "://") {
		errs = append(errs, fmt.Errorf("CODEPUSH_MINIO_ENDPOINT must be host:port, got %q", c.Endpoint))
	}
	return errors.Join(errs...)
}
