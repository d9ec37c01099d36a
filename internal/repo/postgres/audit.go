package postgres

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/animus-labs/codepush/internal/domain"
	"github.com/animus-labs/codepush/internal/platform/auditlog"
)

// AuditAppender writes registry writes to audit_events.
type AuditAppender struct {
	db  auditlog.QueryRower
	now func() time.Time
}

func NewAuditAppender(db auditlog.QueryRower) *AuditAppender {
	if db == nil {
		return nil
	}
	return &AuditAppender{db: db, now: time.Now}
}

// Append stores event. The service name and request path travel in the
// payload, which is what the integrity hash covers.
func (a *AuditAppender) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	if a == nil || a.db == nil {
		return 0, errors.New("audit appender not initialized")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now().UTC()
	}
	payload := make(map[string]any, len(event.Payload)+2)
	maps.Copy(payload, event.Payload)
	if event.Service != "" {
		payload["service"] = event.Service
	}
	if event.Path != "" {
		payload["request_path"] = event.Path
	}

	id, err := auditlog.Insert(ctx, a.db, auditlog.Event{
		OccurredAt:   event.OccurredAt,
		Actor:        event.Actor,
		Action:       string(event.Action),
		ResourceType: event.Action.ResourceType(),
		ResourceID:   event.ResourceID,
		RequestID:    event.RequestID,
		IP:           event.IP,
		UserAgent:    event.UserAgent,
		Payload:      payload,
	})
	if err != nil {
		return 0, fmt.Errorf("append %s audit event: %w", event.Action, err)
	}
	return id, nil
}
