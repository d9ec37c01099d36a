package publish

import (
	"context"

	"github.com/animus-labs/codepush/internal/domain"
)

// Registry is the remote release-tracking service as seen by the pipeline.
// CreateRelease reports an existing (app, version) pair with an error matching
// ErrConflict; CreateArtifact reports an existing (release, arch) pair with a
// *ConflictError.
type Registry interface {
	ListApplications(ctx context.Context) ([]domain.Application, error)
	ListReleases(ctx context.Context, appID string) ([]domain.Release, error)
	CreateRelease(ctx context.Context, appID, version, toolchainRevision string) (domain.Release, error)
	CreateArtifact(ctx context.Context, upload ArtifactUpload) (domain.Artifact, error)
}

// ArtifactUpload is one artifact creation request.
type ArtifactUpload struct {
	ReleaseID string
	Arch      string
	Platform  string
	Hash      string
	Content   []byte
}

// RevisionProvider reports the toolchain revision recorded on new releases.
type RevisionProvider interface {
	CurrentRevision(ctx context.Context) (string, error)
}

// RevisionFunc adapts a function to RevisionProvider.
type RevisionFunc func(ctx context.Context) (string, error)

func (f RevisionFunc) CurrentRevision(ctx context.Context) (string, error) { return f(ctx) }

// BuildOptions are passed to the build toolchain.
type BuildOptions struct {
	Version string
}

// Builder produces the archive to publish and returns its path. Failures
// should be *BuildError.
type Builder interface {
	Build(ctx context.Context, opts BuildOptions) (string, error)
}

// Precondition is a named validator that must pass before building.
type Precondition struct {
	Name  string
	Check func(ctx context.Context) error
}

// PreconditionAuthenticated names the check failed when the registry refuses
// the caller.
const PreconditionAuthenticated = "authenticated"
