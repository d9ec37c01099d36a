package publish

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/animus-labs/codepush/internal/domain"
)

// Outcome of publishing one artifact.
type Outcome int

const (
	Created Outcome = iota + 1
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Publisher uploads artifacts, treating an existing identical artifact as
// success.
type Publisher struct {
	registry Registry
	platform string
	logger   *slog.Logger
}

func NewPublisher(registry Registry, platform string, logger *slog.Logger) *Publisher {
	if strings.TrimSpace(platform) == "" {
		platform = domain.PlatformAndroid
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{registry: registry, platform: platform, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, releaseID, arch string, content []byte) (Outcome, error) {
	if p == nil || p.registry == nil {
		return 0, errors.New("publisher not initialized")
	}
	releaseID = strings.TrimSpace(releaseID)
	arch = strings.TrimSpace(arch)
	if releaseID == "" {
		return 0, errors.New("release id is required")
	}
	if arch == "" {
		return 0, errors.New("arch is required")
	}

	hash := Hash(content)
	_, err := p.registry.CreateArtifact(ctx, ArtifactUpload{
		ReleaseID: releaseID,
		Arch:      arch,
		Platform:  p.platform,
		Hash:      hash,
		Content:   content,
	})
	if err == nil {
		p.logger.Debug("artifact created", "release_id", releaseID, "arch", arch, "hash", hash, "size_bytes", len(content))
		return Created, nil
	}
	if !errors.Is(err, ErrConflict) {
		return 0, remoteErr("create artifact "+arch, err)
	}

	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Existing == nil || conflict.Existing.Hash == "" {
		p.logger.Warn("artifact exists, content not verified", "release_id", releaseID, "arch", arch)
		return AlreadyExists, nil
	}
	if !strings.EqualFold(conflict.Existing.Hash, hash) {
		return 0, &ArtifactMismatchError{
			ReleaseID:    releaseID,
			Arch:         arch,
			LocalHash:    hash,
			ExistingHash: conflict.Existing.Hash,
		}
	}
	p.logger.Debug("artifact already exists", "release_id", releaseID, "arch", arch, "artifact_id", conflict.Existing.ID)
	return AlreadyExists, nil
}
