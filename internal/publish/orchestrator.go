package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/codepush/internal/domain"
)

// Pipeline stage names reported through Reporter.
const (
	StagePreconditions = "check preconditions"
	StageBuild         = "build archive"
	StageExtract       = "extract archive"
	StageResolve       = "resolve release"
	stagePublishPrefix = "publish "
)

// Config wires the collaborators of an Orchestrator.
type Config struct {
	Registry  Registry
	Builder   Builder
	Revisions RevisionProvider
	Reporter  Reporter
	Logger    *slog.Logger
	Platform  string
}

// Options describe one publish invocation.
type Options struct {
	AppID         string
	Version       string
	WorkDir       string
	Concurrency   int
	Preconditions []Precondition
}

// Orchestrator drives a publish run: preconditions, build, extraction,
// release resolution, then one upload per architecture and one for the
// whole archive.
type Orchestrator struct {
	registry  Registry
	builder   Builder
	revisions RevisionProvider
	reporter  Reporter
	logger    *slog.Logger
	resolver  *Resolver
	publisher *Publisher
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Builder == nil {
		return nil, errors.New("builder is required")
	}
	if cfg.Revisions == nil {
		return nil, errors.New("revision provider is required")
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		registry:  cfg.Registry,
		builder:   cfg.Builder,
		revisions: cfg.Revisions,
		reporter:  reporter,
		logger:    logger,
		resolver:  NewResolver(cfg.Registry, logger),
		publisher: NewPublisher(cfg.Registry, cfg.Platform, logger),
	}, nil
}

// Run publishes opts.Version of opts.AppID. The returned summary reflects the
// progress made even when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Summary, error) {
	summary := &Summary{AppID: strings.TrimSpace(opts.AppID), Version: strings.TrimSpace(opts.Version)}
	if summary.AppID == "" {
		return summary, &ConfigError{Err: errors.New("app id is required")}
	}
	if summary.Version == "" {
		return summary, &ConfigError{Err: errors.New("version is required")}
	}

	app, err := runStage(o, StagePreconditions, func() (domain.Application, error) {
		return o.checkPreconditions(ctx, summary.AppID, opts.Preconditions)
	})
	if err != nil {
		return summary, err
	}
	summary.AppName = app.DisplayName

	archivePath, err := runStage(o, StageBuild, func() (string, error) {
		return o.build(ctx, summary.Version)
	})
	if err != nil {
		return summary, err
	}

	workDir := strings.TrimSpace(opts.WorkDir)
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "codepush-extract-")
		if err != nil {
			return summary, &ExtractionError{Archive: archivePath, Err: err}
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}

	root, err := runStage(o, StageExtract, func() (string, error) {
		return Extract(archivePath, filepath.Join(workDir, "archive"))
	})
	if err != nil {
		return summary, err
	}

	resolution, err := runStage(o, StageResolve, func() (Resolution, error) {
		return o.resolver.Resolve(ctx, summary.AppID, summary.Version, o.revisions)
	})
	if err != nil {
		return summary, err
	}
	release := resolution.Release()
	summary.ReleaseID = release.ID
	summary.ReleaseKind = resolution.Kind

	if err := o.publishTargets(ctx, summary, release.ID, root, opts.Concurrency); err != nil {
		return summary, err
	}

	if err := o.publishFile(ctx, summary, release.ID, domain.ArchiveArch, archivePath); err != nil {
		return summary, err
	}

	o.logger.Info("publish complete",
		"app_id", summary.AppID,
		"version", summary.Version,
		"release_id", summary.ReleaseID,
		"created", summary.Count(Created),
		"already_exists", summary.Count(AlreadyExists),
	)
	return summary, nil
}

func (o *Orchestrator) checkPreconditions(ctx context.Context, appID string, checks []Precondition) (domain.Application, error) {
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		if err := check.Check(ctx); err != nil {
			var cfgErr *ConfigError
			var preErr *PreconditionError
			if errors.As(err, &cfgErr) || errors.As(err, &preErr) {
				return domain.Application{}, err
			}
			return domain.Application{}, &PreconditionError{Check: check.Name, Err: err}
		}
	}

	// The application lookup is the first authenticated call, so a refusal
	// here fails the authentication precondition.
	apps, err := o.registry.ListApplications(ctx)
	if errors.Is(err, ErrAccessDenied) {
		return domain.Application{}, &PreconditionError{Check: PreconditionAuthenticated, Err: err}
	}
	if err != nil {
		return domain.Application{}, remoteErr("list applications", err)
	}
	for _, app := range apps {
		if app.ID == appID {
			return app, nil
		}
	}
	return domain.Application{}, &PreconditionError{
		Check: "application",
		Err:   fmt.Errorf("application %s not found", appID),
	}
}

func (o *Orchestrator) build(ctx context.Context, version string) (string, error) {
	archivePath, err := o.builder.Build(ctx, BuildOptions{Version: version})
	if err != nil {
		var buildErr *BuildError
		if errors.As(err, &buildErr) {
			return "", err
		}
		return "", &BuildError{Message: err.Error(), Err: err}
	}
	if strings.TrimSpace(archivePath) == "" {
		return "", &BuildError{Message: "toolchain reported no archive"}
	}
	return archivePath, nil
}

func (o *Orchestrator) publishTargets(ctx context.Context, summary *Summary, releaseID, root string, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for _, target := range domain.ArchitectureTargets() {
		if groupCtx.Err() != nil {
			break
		}
		path := filepath.Join(root, filepath.FromSlash(target.Path))
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return nil
			}
			return o.publishFile(groupCtx, summary, releaseID, target.Arch, path)
		})
	}
	return group.Wait()
}

func (o *Orchestrator) publishFile(ctx context.Context, summary *Summary, releaseID, arch, path string) error {
	end := o.reporter.Begin(stagePublishPrefix + arch)
	content, err := os.ReadFile(path)
	if err != nil {
		err = &ExtractionError{Archive: path, Err: err}
		summary.record(ArtifactResult{Arch: arch, Err: err})
		end(err)
		return err
	}
	outcome, err := o.publisher.Publish(ctx, releaseID, arch, content)
	summary.record(ArtifactResult{Arch: arch, Hash: Hash(content), Size: len(content), Outcome: outcome, Err: err})
	if err != nil {
		end(err)
		return err
	}
	end(nil)
	return nil
}

func runStage[T any](o *Orchestrator, name string, fn func() (T, error)) (T, error) {
	end := o.reporter.Begin(name)
	v, err := fn()
	end(err)
	if err != nil {
		o.logger.Error("stage failed", "stage", name, "error", err)
	}
	return v, err
}
