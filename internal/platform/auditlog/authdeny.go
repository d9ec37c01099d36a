package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/animus-labs/codepush/internal/platform/auth"
)

// InsertAuthDeny records a request the auth middleware turned away.
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	_, err := Insert(ctx, q, AuthDenyEvent(service, event))
	return err
}

// AuthDenyEvent maps a deny to an audit row. The action is "auth.<reason>"
// and the resource is the route that was refused.
func AuthDenyEvent(service string, event auth.DenyEvent) Event {
	actor := strings.TrimSpace(event.Subject)
	if actor == "" {
		actor = "anonymous"
	}
	reason := strings.TrimSpace(event.Reason)
	if reason == "" {
		reason = "denied"
	}

	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}

	payload := map[string]any{
		"service": service,
		"status":  event.Status,
		"error":   event.Error,
	}
	if len(event.Roles) > 0 {
		payload["roles"] = event.Roles
	}
	if event.Email != "" {
		payload["email"] = event.Email
	}
	// release-publisher sends "<run id>-<sequence>"; keeping the run id lets
	// every refused call of one publish be found together.
	if runID, _, ok := strings.Cut(event.RequestID, "-"); ok && runID != "" {
		payload["run_id"] = runID
	}

	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + reason,
		ResourceType: "route",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload:      payload,
	}
}
