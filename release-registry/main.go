package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/codepush/internal/platform/auditlog"
	"github.com/animus-labs/codepush/internal/platform/auth"
	"github.com/animus-labs/codepush/internal/platform/env"
	"github.com/animus-labs/codepush/internal/platform/httpserver"
	"github.com/animus-labs/codepush/internal/platform/postgres"
	repopg "github.com/animus-labs/codepush/internal/repo/postgres"
	"github.com/animus-labs/codepush/internal/service/registry"
	"github.com/animus-labs/codepush/internal/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("REGISTRY_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("REGISTRY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	uploadMaxMiB, err := env.Int("REGISTRY_UPLOAD_MAX_MIB", 512)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := repopg.EnsureSchema(startupCtx, db); err != nil {
		cancel()
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}
	cancel()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
	minioStore, err := objectstore.Dial(startupCtx, storeCfg)
	cancel()
	if err != nil {
		logger.Error("object store unavailable", "error", err, "bucket", storeCfg.Bucket)
		os.Exit(1)
	}
	blobs, err := objectstore.NewCompressedStore(minioStore)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}

	svc, err := registry.New(registry.Config{
		Applications: repopg.NewApplicationStore(db),
		Releases:     repopg.NewReleaseStore(db),
		Artifacts:    repopg.NewArtifactStore(db),
		Audit:        repopg.NewAuditAppender(db),
		Blobs:        blobs,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("registry service init failed", "error", err)
		os.Exit(2)
	}

	validator, err := newRequestValidator(ctx, logger)
	if err != nil {
		logger.Error("openapi init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			serviceName,
			httpserver.ReadinessCheck{
				Name:  "postgres",
				Check: httpserver.WithTimeout(750*time.Millisecond, db.PingContext),
			},
			httpserver.ReadinessCheck{
				Name:  "minio",
				Check: httpserver.WithTimeout(750*time.Millisecond, minioStore.Ready),
			},
		),
	)
	newRegistryAPI(logger, svc, int64(uploadMaxMiB)<<20).register(mux)

	var handler http.Handler = mux
	handler = validator.Wrap(handler)
	authenticator, err := newAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}
	if authenticator != nil {
		handler = auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			Authorize:     auth.MethodRoleAuthorizer(),
			Audit: func(ctx context.Context, event auth.DenyEvent) error {
				auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
			},
			SkipPrefixes: []string{"/healthz", "/readyz"},
		}.Wrap(handler)
	} else {
		logger.Warn("authentication disabled", "mode", authCfg.Mode)
	}

	cfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, serviceName, handler)); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// newAuthenticator returns nil when authentication is disabled.
func newAuthenticator(ctx context.Context, cfg auth.Config) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeDev:
		return auth.NewDevAuthenticator(cfg), nil
	case auth.ModeOIDC:
		return auth.NewBearerVerifier(ctx, cfg)
	default:
		return nil, nil
	}
}
