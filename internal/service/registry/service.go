// Package registry implements the release registry: applications, their
// versioned releases and the per-architecture artifacts uploaded to them.
package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/animus-labs/codepush/internal/domain"
	"github.com/animus-labs/codepush/internal/repo"
	"github.com/animus-labs/codepush/internal/storage/objectstore"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrHashMismatch means the uploaded bytes do not match the declared hash.
	ErrHashMismatch = errors.New("content hash mismatch")
)

// AuditContext identifies the caller of a write for the audit log.
type AuditContext struct {
	Actor     string
	RequestID string
	IP        net.IP
	UserAgent string
	Path      string
	Service   string
}

type Config struct {
	Applications repo.ApplicationRepository
	Releases     repo.ReleaseRepository
	Artifacts    repo.ArtifactRepository
	Audit        repo.AuditEventAppender
	Blobs        objectstore.Store
	Logger       *slog.Logger
}

type Service struct {
	apps      repo.ApplicationRepository
	releases  repo.ReleaseRepository
	artifacts repo.ArtifactRepository
	audit     repo.AuditEventAppender
	blobs     objectstore.Store
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Applications == nil:
		return nil, errors.New("application repository is required")
	case cfg.Releases == nil:
		return nil, errors.New("release repository is required")
	case cfg.Artifacts == nil:
		return nil, errors.New("artifact repository is required")
	case cfg.Blobs == nil:
		return nil, errors.New("blob store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		apps:      cfg.Applications,
		releases:  cfg.Releases,
		artifacts: cfg.Artifacts,
		audit:     cfg.Audit,
		blobs:     cfg.Blobs,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *Service) CreateApplication(ctx context.Context, id, displayName string, auditCtx AuditContext) (domain.Application, error) {
	app := domain.Application{
		ID:          strings.TrimSpace(id),
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   s.now().UTC(),
		CreatedBy:   auditCtx.Actor,
	}
	if app.DisplayName == "" {
		app.DisplayName = app.ID
	}
	if err := app.Validate(); err != nil {
		return domain.Application{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := s.apps.CreateApplication(ctx, app); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			existing, getErr := s.apps.GetApplication(ctx, app.ID)
			if getErr != nil {
				return domain.Application{}, getErr
			}
			return existing, err
		}
		return domain.Application{}, err
	}

	s.appendAudit(ctx, auditCtx, domain.AuditApplicationCreate, app.ID, map[string]any{
		"app_id":       app.ID,
		"display_name": app.DisplayName,
	})
	return app, nil
}

func (s *Service) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return s.apps.GetApplication(ctx, strings.TrimSpace(id))
}

func (s *Service) ListApplications(ctx context.Context) ([]domain.Application, error) {
	return s.apps.ListApplications(ctx)
}

// ListReleases returns the releases of an application; an unknown application
// is repo.ErrNotFound rather than an empty list.
func (s *Service) ListReleases(ctx context.Context, appID string) ([]domain.Release, error) {
	if _, err := s.apps.GetApplication(ctx, strings.TrimSpace(appID)); err != nil {
		return nil, err
	}
	return s.releases.ListReleases(ctx, strings.TrimSpace(appID))
}

func (s *Service) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	return s.releases.GetRelease(ctx, strings.TrimSpace(id))
}

// CreateRelease registers a release. When (appID, version) is taken it returns
// the existing release together with an error wrapping repo.ErrConflict.
func (s *Service) CreateRelease(ctx context.Context, appID, version, toolchainRevision string, auditCtx AuditContext) (domain.Release, error) {
	appID = strings.TrimSpace(appID)
	if _, err := s.apps.GetApplication(ctx, appID); err != nil {
		return domain.Release{}, err
	}

	release := domain.Release{
		ID:                s.newID(),
		ApplicationID:     appID,
		Version:           strings.TrimSpace(version),
		ToolchainRevision: strings.TrimSpace(toolchainRevision),
		CreatedAt:         s.now().UTC(),
		CreatedBy:         auditCtx.Actor,
	}
	if err := release.Validate(); err != nil {
		return domain.Release{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if err := s.releases.CreateRelease(ctx, release); err != nil {
		if !errors.Is(err, repo.ErrConflict) {
			return domain.Release{}, err
		}
		existing, getErr := s.releases.GetReleaseByVersion(ctx, appID, release.Version)
		if getErr != nil {
			return domain.Release{}, fmt.Errorf("load conflicting release: %w", getErr)
		}
		return existing, err
	}

	s.appendAudit(ctx, auditCtx, domain.AuditReleaseCreate, release.ID, map[string]any{
		"app_id":             release.ApplicationID,
		"version":            release.Version,
		"toolchain_revision": release.ToolchainRevision,
	})
	return release, nil
}

func (s *Service) ListArtifacts(ctx context.Context, releaseID string) ([]domain.Artifact, error) {
	if _, err := s.releases.GetRelease(ctx, strings.TrimSpace(releaseID)); err != nil {
		return nil, err
	}
	return s.artifacts.ListArtifacts(ctx, strings.TrimSpace(releaseID))
}

func (s *Service) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	return s.artifacts.GetArtifact(ctx, strings.TrimSpace(id))
}

// ArtifactInput is one upload. Hash is the hex sha256 the client computed.
type ArtifactInput struct {
	ReleaseID string
	Arch      string
	Platform  string
	Hash      string
	Content   io.Reader
}

// CreateArtifact verifies and stores an upload. Blobs are content addressed so
// a retried or duplicated upload never writes a second object. When
// (release, arch) is taken it returns the existing artifact together with an
// error wrapping repo.ErrConflict.
func (s *Service) CreateArtifact(ctx context.Context, in ArtifactInput, auditCtx AuditContext) (domain.Artifact, error) {
	in.ReleaseID = strings.TrimSpace(in.ReleaseID)
	in.Arch = strings.TrimSpace(in.Arch)
	in.Platform = strings.TrimSpace(in.Platform)
	in.Hash = strings.ToLower(strings.TrimSpace(in.Hash))
	if in.Content == nil {
		return domain.Artifact{}, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	if !domain.IsKnownArch(in.Arch) {
		return domain.Artifact{}, fmt.Errorf("%w: unknown arch %q", ErrInvalidArgument, in.Arch)
	}
	if _, err := s.releases.GetRelease(ctx, in.ReleaseID); err != nil {
		return domain.Artifact{}, err
	}

	if existing, err := s.artifacts.GetArtifactByArch(ctx, in.ReleaseID, in.Arch); err == nil {
		return existing, fmt.Errorf("artifact %s/%s: %w", in.ReleaseID, in.Arch, repo.ErrConflict)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Artifact{}, err
	}

	raw, err := io.ReadAll(in.Content)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("read content: %w", err)
	}
	sum := sha256.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != in.Hash {
		return domain.Artifact{}, fmt.Errorf("%w: declared %s, received %s", ErrHashMismatch, in.Hash, got)
	}

	key, err := s.putBlob(ctx, raw)
	if err != nil {
		return domain.Artifact{}, err
	}

	artifact := domain.Artifact{
		ID:        s.newID(),
		ReleaseID: in.ReleaseID,
		Arch:      in.Arch,
		Platform:  in.Platform,
		Hash:      in.Hash,
		SizeBytes: int64(len(raw)),
		ObjectKey: key,
		CreatedAt: s.now().UTC(),
		CreatedBy: auditCtx.Actor,
	}
	if err := artifact.Validate(); err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := s.artifacts.CreateArtifact(ctx, artifact); err != nil {
		if !errors.Is(err, repo.ErrConflict) {
			return domain.Artifact{}, err
		}
		existing, getErr := s.artifacts.GetArtifactByArch(ctx, in.ReleaseID, in.Arch)
		if getErr != nil {
			return domain.Artifact{}, fmt.Errorf("load conflicting artifact: %w", getErr)
		}
		return existing, err
	}

	s.appendAudit(ctx, auditCtx, domain.AuditArtifactCreate, artifact.ID, map[string]any{
		"release_id": artifact.ReleaseID,
		"arch":       artifact.Arch,
		"platform":   artifact.Platform,
		"hash":       artifact.Hash,
		"size_bytes": artifact.SizeBytes,
		"object_key": artifact.ObjectKey,
	})
	return artifact, nil
}

// OpenArtifact returns the artifact row and a reader over its original bytes.
func (s *Service) OpenArtifact(ctx context.Context, id string) (domain.Artifact, io.ReadCloser, error) {
	artifact, err := s.artifacts.GetArtifact(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Artifact{}, nil, err
	}
	body, err := s.blobs.Open(ctx, artifact.ObjectKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return domain.Artifact{}, nil, fmt.Errorf("blob %s: %w", artifact.ObjectKey, repo.ErrNotFound)
		}
		return domain.Artifact{}, nil, err
	}
	return artifact, body, nil
}

// BlobKey is the object key for content, derived from its BLAKE3 digest.
func BlobKey(content []byte) string {
	sum := blake3.Sum256(content)
	return "blobs/" + hex.EncodeToString(sum[:])
}

func (s *Service) putBlob(ctx context.Context, raw []byte) (string, error) {
	key := BlobKey(raw)
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("stat blob: %w", err)
	}
	if exists {
		s.logger.Debug("blob already stored", "object_key", key)
		return key, nil
	}
	if err := s.blobs.Put(ctx, key, bytes.NewReader(raw), int64(len(raw))); err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	return key, nil
}

func (s *Service) appendAudit(ctx context.Context, auditCtx AuditContext, action domain.AuditAction, resourceID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	_, err := s.audit.Append(ctx, domain.AuditEvent{
		OccurredAt: s.now().UTC(),
		Action:     action,
		ResourceID: resourceID,
		Actor:      auditCtx.Actor,
		Service:    auditCtx.Service,
		Path:       auditCtx.Path,
		RequestID:  auditCtx.RequestID,
		IP:         auditCtx.IP,
		UserAgent:  auditCtx.UserAgent,
		Payload:    payload,
	})
	if err != nil {
		s.logger.Warn("audit append failed", "action", action, "resource_id", resourceID, "request_id", auditCtx.RequestID, "error", err)
	}
}
