package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/animus-labs/codepush/internal/domain"
)

type fakeRegistry struct {
	mu sync.Mutex

	apps      []domain.Application
	releases  []domain.Release
	artifacts map[string]domain.Artifact
	content   map[string][]byte

	listAppsCalls       int
	listReleasesCalls   int
	createReleaseCalls  int
	createArtifactCalls int
	createdArtifacts    []string

	listAppsErr      error
	listReleasesErr  error
	createReleaseErr error
	// failArtifact makes CreateArtifact fail for an arch until cleared.
	failArtifact map[string]error
	// raceRelease is inserted by CreateRelease just before it reports a conflict.
	raceRelease *domain.Release
	nextID      int
}

func newFakeRegistry(apps ...domain.Application) *fakeRegistry {
	return &fakeRegistry{
		apps:         apps,
		artifacts:    map[string]domain.Artifact{},
		content:      map[string][]byte{},
		failArtifact: map[string]error{},
	}
}

func (f *fakeRegistry) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRegistry) ListApplications(ctx context.Context) ([]domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listAppsCalls++
	if f.listAppsErr != nil {
		return nil, f.listAppsErr
	}
	return append([]domain.Application(nil), f.apps...), nil
}

func (f *fakeRegistry) ListReleases(ctx context.Context, appID string) ([]domain.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listReleasesCalls++
	if f.listReleasesErr != nil {
		return nil, f.listReleasesErr
	}
	out := make([]domain.Release, 0)
	for _, release := range f.releases {
		if release.ApplicationID == appID {
			out = append(out, release)
		}
	}
	return out, nil
}

func (f *fakeRegistry) CreateRelease(ctx context.Context, appID, version, revision string) (domain.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReleaseCalls++
	if f.createReleaseErr != nil {
		return domain.Release{}, f.createReleaseErr
	}
	if f.raceRelease != nil {
		f.releases = append(f.releases, *f.raceRelease)
		f.raceRelease = nil
	}
	for _, release := range f.releases {
		if release.ApplicationID == appID && release.Version == version {
			return domain.Release{}, fmt.Errorf("release %s: %w", version, ErrConflict)
		}
	}
	release := domain.Release{
		ID:                f.id("rel"),
		ApplicationID:     appID,
		Version:           version,
		ToolchainRevision: revision,
		CreatedAt:         time.Now().UTC(),
	}
	f.releases = append(f.releases, release)
	return release, nil
}

func (f *fakeRegistry) CreateArtifact(ctx context.Context, upload ArtifactUpload) (domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createArtifactCalls++
	if err := f.failArtifact[upload.Arch]; err != nil {
		return domain.Artifact{}, err
	}
	key := upload.ReleaseID + "/" + upload.Arch
	if existing, ok := f.artifacts[key]; ok {
		return domain.Artifact{}, &ConflictError{Existing: &existing}
	}
	artifact := domain.Artifact{
		ID:        f.id("art"),
		ReleaseID: upload.ReleaseID,
		Arch:      upload.Arch,
		Platform:  upload.Platform,
		Hash:      upload.Hash,
		SizeBytes: int64(len(upload.Content)),
		ObjectKey: "blobs/" + upload.Hash,
	}
	f.artifacts[key] = artifact
	f.content[key] = append([]byte(nil), upload.Content...)
	f.createdArtifacts = append(f.createdArtifacts, upload.Arch)
	return artifact, nil
}

func (f *fakeRegistry) artifact(releaseID, arch string) (domain.Artifact, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[releaseID+"/"+arch]
	return a, ok
}

type staticRevision string

func (s staticRevision) CurrentRevision(ctx context.Context) (string, error) { return string(s), nil }
