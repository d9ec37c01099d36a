package postgres

import (
	"context"
	"strings"

	"github.com/animus-labs/codepush/internal/domain"
)

const artifactColumns = `artifact_id, release_id, arch, platform, hash, size_bytes, object_key, created_at, created_by`

type ArtifactStore struct {
	db DB
}

func NewArtifactStore(db DB) *ArtifactStore {
	if db == nil {
		return nil
	}
	return &ArtifactStore{db: db}
}

// CreateArtifact inserts the artifact. A second artifact for the same
// (release, arch) wraps repo.ErrConflict; an unknown release wraps
// repo.ErrNotFound. Hashes are stored lower-case so lookups compare exactly.
func (s *ArtifactStore) CreateArtifact(ctx context.Context, a domain.Artifact) error {
	if s == nil {
		return errNotInitialized
	}
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (`+artifactColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		strings.TrimSpace(a.ID),
		strings.TrimSpace(a.ReleaseID),
		strings.TrimSpace(a.Arch),
		strings.TrimSpace(a.Platform),
		strings.ToLower(strings.TrimSpace(a.Hash)),
		a.SizeBytes,
		strings.TrimSpace(a.ObjectKey),
		createdAt(a.CreatedAt),
		strings.TrimSpace(a.CreatedBy),
	)
	return classify("insert artifact "+a.Arch+" of "+a.ReleaseID, err)
}

func (s *ArtifactStore) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	if s == nil {
		return domain.Artifact{}, errNotInitialized
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE artifact_id = $1`, strings.TrimSpace(id))
	a, err := scanArtifact(row)
	return a, classify("get artifact "+id, err)
}

func (s *ArtifactStore) GetArtifactByArch(ctx context.Context, releaseID, arch string) (domain.Artifact, error) {
	if s == nil {
		return domain.Artifact{}, errNotInitialized
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE release_id = $1 AND arch = $2`,
		strings.TrimSpace(releaseID), strings.TrimSpace(arch),
	)
	a, err := scanArtifact(row)
	return a, classify("get artifact "+arch+" of "+releaseID, err)
}

func (s *ArtifactStore) ListArtifacts(ctx context.Context, releaseID string) ([]domain.Artifact, error) {
	if s == nil {
		return nil, errNotInitialized
	}
	return queryAll(ctx, s.db, "list artifacts of "+releaseID, scanArtifact,
		`SELECT `+artifactColumns+` FROM artifacts WHERE release_id = $1 ORDER BY arch`,
		strings.TrimSpace(releaseID))
}

func scanArtifact(row scanner) (domain.Artifact, error) {
	var a domain.Artifact
	err := row.Scan(&a.ID, &a.ReleaseID, &a.Arch, &a.Platform, &a.Hash, &a.SizeBytes, &a.ObjectKey, &a.CreatedAt, &a.CreatedBy)
	return a, err
}
