package domain

import (
	"errors"
	"strings"
	"time"
)

// Release is a versioned publishing target for one application. The pair
// (ApplicationID, Version) identifies at most one release.
type Release struct {
	ID                string
	ApplicationID     string
	Version           string
	ToolchainRevision string
	CreatedAt         time.Time
	CreatedBy         string
}

func (r Release) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("release id is required")
	}
	if strings.TrimSpace(r.ApplicationID) == "" {
		return errors.New("application id is required")
	}
	if strings.TrimSpace(r.Version) == "" {
		return errors.New("version is required")
	}
	if strings.TrimSpace(r.ToolchainRevision) == "" {
		return errors.New("toolchain revision is required")
	}
	return nil
}
