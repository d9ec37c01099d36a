package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/animus-labs/codepush/internal/domain"
)

type refusingQueryer struct {
	t *testing.T
}

func (q refusingQueryer) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	q.t.Fatalf("unexpected query %q", query)
	return nil
}

func TestAuditAppender_RejectsIncompleteEventsBeforeQuerying(t *testing.T) {
	appender := NewAuditAppender(refusingQueryer{t: t})
	_, err := appender.Append(context.Background(), domain.AuditEvent{
		Action:     domain.AuditReleaseCreate,
		ResourceID: "rel-1",
	})
	if err == nil || !strings.Contains(err.Error(), "actor") {
		t.Fatalf("Append() err=%v, want missing actor", err)
	}
	if !strings.Contains(err.Error(), "release.create") {
		t.Fatalf("Append() err=%v does not name the action", err)
	}
}

func TestAuditAppender_Nil(t *testing.T) {
	if NewAuditAppender(nil) != nil {
		t.Fatalf("NewAuditAppender(nil) should return nil")
	}
	var appender *AuditAppender
	if _, err := appender.Append(context.Background(), domain.AuditEvent{}); err == nil {
		t.Fatalf("nil appender Append() expected error")
	}
}
