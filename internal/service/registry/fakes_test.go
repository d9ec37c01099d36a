package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/animus-labs/codepush/internal/domain"
	"github.com/animus-labs/codepush/internal/repo"
	"github.com/animus-labs/codepush/internal/storage/objectstore"
)

type memoryRepo struct {
	mu        sync.Mutex
	apps      map[string]domain.Application
	releases  map[string]domain.Release
	artifacts map[string]domain.Artifact
	audit     []domain.AuditEvent

	// insertRace simulates a concurrent writer winning between the lookup and
	// the insert of an artifact.
	insertRace *domain.Artifact
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		apps:      map[string]domain.Application{},
		releases:  map[string]domain.Release{},
		artifacts: map[string]domain.Artifact{},
	}
}

func (m *memoryRepo) CreateApplication(ctx context.Context, app domain.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.ID]; ok {
		return fmt.Errorf("application: %w", repo.ErrConflict)
	}
	m.apps[app.ID] = app
	return nil
}

func (m *memoryRepo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return domain.Application{}, repo.ErrNotFound
	}
	return app, nil
}

func (m *memoryRepo) ListApplications(ctx context.Context) ([]domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Application, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) CreateRelease(ctx context.Context, release domain.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.releases {
		if existing.ApplicationID == release.ApplicationID && existing.Version == release.Version {
			return fmt.Errorf("release: %w", repo.ErrConflict)
		}
	}
	m.releases[release.ID] = release
	return nil
}

func (m *memoryRepo) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	release, ok := m.releases[id]
	if !ok {
		return domain.Release{}, repo.ErrNotFound
	}
	return release, nil
}

func (m *memoryRepo) GetReleaseByVersion(ctx context.Context, appID, version string) (domain.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, release := range m.releases {
		if release.ApplicationID == appID && release.Version == version {
			return release, nil
		}
	}
	return domain.Release{}, repo.ErrNotFound
}

func (m *memoryRepo) ListReleases(ctx context.Context, appID string) ([]domain.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Release
	for _, release := range m.releases {
		if release.ApplicationID == appID {
			out = append(out, release)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *memoryRepo) CreateArtifact(ctx context.Context, artifact domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertRace != nil {
		m.artifacts[m.insertRace.ID] = *m.insertRace
		m.insertRace = nil
	}
	for _, existing := range m.artifacts {
		if existing.ReleaseID == artifact.ReleaseID && existing.Arch == artifact.Arch {
			return fmt.Errorf("artifact: %w", repo.ErrConflict)
		}
	}
	m.artifacts[artifact.ID] = artifact
	return nil
}

func (m *memoryRepo) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.artifacts[id]
	if !ok {
		return domain.Artifact{}, repo.ErrNotFound
	}
	return artifact, nil
}

func (m *memoryRepo) GetArtifactByArch(ctx context.Context, releaseID, arch string) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, artifact := range m.artifacts {
		if artifact.ReleaseID == releaseID && artifact.Arch == arch {
			return artifact, nil
		}
	}
	return domain.Artifact{}, repo.ErrNotFound
}

func (m *memoryRepo) ListArtifacts(ctx context.Context, releaseID string) ([]domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Artifact
	for _, artifact := range m.artifacts {
		if artifact.ReleaseID == releaseID {
			out = append(out, artifact)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Arch < out[j].Arch })
	return out, nil
}

func (m *memoryRepo) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, event)
	return int64(len(m.audit)), nil
}

func (m *memoryRepo) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audit))
	for _, event := range m.audit {
		out = append(out, string(event.Action))
	}
	return out
}

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{objects: map[string][]byte{}}
}

func (m *memoryBlobs) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.puts++
	return nil
}

func (m *memoryBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBlobs) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}
