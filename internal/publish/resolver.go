package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/codepush/internal/domain"
)

// ResolutionKind tells whether a release was looked up or newly created.
type ResolutionKind int

const (
	ReleaseFound ResolutionKind = iota + 1
	ReleaseCreated
)

func (k ResolutionKind) String() string {
	switch k {
	case ReleaseFound:
		return "found"
	case ReleaseCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Resolution is the result of find-or-create.
type Resolution struct {
	Kind    ResolutionKind
	release domain.Release
}

func (r Resolution) Release() domain.Release { return r.release }

// Resolver finds the release for (app, version) or creates it.
type Resolver struct {
	registry Registry
	logger   *slog.Logger
}

func NewResolver(registry Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{registry: registry, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, appID, version string, revisions RevisionProvider) (Resolution, error) {
	if r == nil || r.registry == nil {
		return Resolution{}, errors.New("resolver not initialized")
	}
	appID = strings.TrimSpace(appID)
	version = strings.TrimSpace(version)
	if appID == "" {
		return Resolution{}, errors.New("application id is required")
	}
	if version == "" {
		return Resolution{}, errors.New("version is required")
	}
	if revisions == nil {
		return Resolution{}, errors.New("revision provider is required")
	}

	existing, ok, err := r.lookup(ctx, appID, version)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		r.logger.Debug("release found", "release_id", existing.ID, "version", version)
		return Resolution{Kind: ReleaseFound, release: existing}, nil
	}

	revision, err := revisions.CurrentRevision(ctx)
	if err != nil {
		return Resolution{}, remoteErr("toolchain revision", err)
	}
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return Resolution{}, &RemoteServiceError{Op: "toolchain revision", Err: errors.New("empty revision")}
	}

	created, err := r.registry.CreateRelease(ctx, appID, version, revision)
	if err == nil {
		r.logger.Info("release created", "release_id", created.ID, "version", version, "toolchain_revision", revision)
		return Resolution{Kind: ReleaseCreated, release: created}, nil
	}
	if !errors.Is(err, ErrConflict) {
		return Resolution{}, remoteErr("create release", err)
	}

	// Another invocation created the release between lookup and create.
	winner, ok, err := r.lookup(ctx, appID, version)
	if err != nil {
		return Resolution{}, err
	}
	if !ok {
		return Resolution{}, &RemoteServiceError{
			Op:  "create release",
			Err: fmt.Errorf("release %s reported as existing but not listed", version),
		}
	}
	r.logger.Info("release created concurrently", "release_id", winner.ID, "version", version)
	return Resolution{Kind: ReleaseFound, release: winner}, nil
}

func (r *Resolver) lookup(ctx context.Context, appID, version string) (domain.Release, bool, error) {
	releases, err := r.registry.ListReleases(ctx, appID)
	if err != nil {
		return domain.Release{}, false, remoteErr("list releases", err)
	}
	for _, release := range releases {
		if release.Version == version {
			return release, true, nil
		}
	}
	return domain.Release{}, false, nil
}
