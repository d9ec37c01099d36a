package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/codepush/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a violated uniqueness constraint.
	ErrConflict = errors.New("already exists")
)

// ApplicationRepository manages registered applications.
type ApplicationRepository interface {
	CreateApplication(ctx context.Context, app domain.Application) error
	GetApplication(ctx context.Context, id string) (domain.Application, error)
	ListApplications(ctx context.Context) ([]domain.Application, error)
}

// ReleaseRepository manages releases, unique by (application, version).
type ReleaseRepository interface {
	CreateRelease(ctx context.Context, release domain.Release) error
	GetRelease(ctx context.Context, id string) (domain.Release, error)
	GetReleaseByVersion(ctx context.Context, appID, version string) (domain.Release, error)
	ListReleases(ctx context.Context, appID string) ([]domain.Release, error)
}

// ArtifactRepository manages append-only artifacts, unique by (release, arch).
type ArtifactRepository interface {
	CreateArtifact(ctx context.Context, artifact domain.Artifact) error
	GetArtifact(ctx context.Context, id string) (domain.Artifact, error)
	GetArtifactByArch(ctx context.Context, releaseID, arch string) (domain.Artifact, error)
	ListArtifacts(ctx context.Context, releaseID string) ([]domain.Artifact, error)
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}
