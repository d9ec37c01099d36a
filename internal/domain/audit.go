package domain

import (
	"net"
	"strings"
	"time"
)

// AuditAction names a registry write. The part before the dot is the kind of
// resource written.
type AuditAction string

const (
	AuditApplicationCreate AuditAction = "application.create"
	AuditReleaseCreate     AuditAction = "release.create"
	AuditArtifactCreate    AuditAction = "artifact.create"
)

func (a AuditAction) ResourceType() string {
	resource, _, _ := strings.Cut(string(a), ".")
	return resource
}

// AuditEvent records one accepted registry write. Rejected requests are
// audited separately by the auth middleware.
type AuditEvent struct {
	OccurredAt time.Time
	Action     AuditAction
	ResourceID string

	Actor     string
	Service   string
	Path      string
	RequestID string
	IP        net.IP
	UserAgent string

	Payload map[string]any
}
