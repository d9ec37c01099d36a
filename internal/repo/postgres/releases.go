package postgres

import (
	"context"
	"strings"

	"github.com/animus-labs/codepush/internal/domain"
)

const releaseColumns = `release_id, app_id, version, toolchain_revision, created_at, created_by`

type ReleaseStore struct {
	db DB
}

func NewReleaseStore(db DB) *ReleaseStore {
	if db == nil {
		return nil
	}
	return &ReleaseStore{db: db}
}

// CreateRelease inserts the release. A duplicate (app, version) wraps
// repo.ErrConflict; an unknown application wraps repo.ErrNotFound.
func (s *ReleaseStore) CreateRelease(ctx context.Context, release domain.Release) error {
	if s == nil {
		return errNotInitialized
	}
	if err := release.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO releases (`+releaseColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		strings.TrimSpace(release.ID),
		strings.TrimSpace(release.ApplicationID),
		strings.TrimSpace(release.Version),
		strings.TrimSpace(release.ToolchainRevision),
		createdAt(release.CreatedAt),
		strings.TrimSpace(release.CreatedBy),
	)
	return classify("insert release "+release.ApplicationID+"@"+release.Version, err)
}

func (s *ReleaseStore) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	if s == nil {
		return domain.Release{}, errNotInitialized
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE release_id = $1`, strings.TrimSpace(id))
	release, err := scanRelease(row)
	return release, classify("get release "+id, err)
}

func (s *ReleaseStore) GetReleaseByVersion(ctx context.Context, appID, version string) (domain.Release, error) {
	if s == nil {
		return domain.Release{}, errNotInitialized
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE app_id = $1 AND version = $2`,
		strings.TrimSpace(appID), strings.TrimSpace(version),
	)
	release, err := scanRelease(row)
	return release, classify("get release "+appID+"@"+version, err)
}

// ListReleases returns the newest release first.
func (s *ReleaseStore) ListReleases(ctx context.Context, appID string) ([]domain.Release, error) {
	if s == nil {
		return nil, errNotInitialized
	}
	return queryAll(ctx, s.db, "list releases "+appID, scanRelease,
		`SELECT `+releaseColumns+` FROM releases WHERE app_id = $1 ORDER BY created_at DESC, release_id`,
		strings.TrimSpace(appID))
}

func scanRelease(row scanner) (domain.Release, error) {
	var r domain.Release
	err := row.Scan(&r.ID, &r.ApplicationID, &r.Version, &r.ToolchainRevision, &r.CreatedAt, &r.CreatedBy)
	return r, err
}
