// Package auditlog appends tamper-evident rows to the audit_events table.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"
)

// maxPayloadBytes bounds the JSON payload stored with one event.
const maxPayloadBytes = 64 << 10

// Event is one audited action: a registry write or a refused request.
type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"actor":         e.Actor,
		"action":        e.Action,
		"resource type": e.ResourceType,
		"resource id":   e.ResourceID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if e.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("audit event: %s required", strings.Join(missing, ", "))
	}
	return nil
}

// record is the canonical form of an event. Its JSON encoding is what the
// integrity digest covers, and its fields are what gets stored.
type record struct {
	OccurredAt   time.Time       `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RequestID    string          `json:"request_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func (e Event) record(payloadJSON []byte) record {
	ip := ""
	if e.IP != nil {
		ip = e.IP.String()
	}
	return record{
		OccurredAt:   e.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(e.Actor),
		Action:       strings.TrimSpace(e.Action),
		ResourceType: strings.TrimSpace(e.ResourceType),
		ResourceID:   strings.TrimSpace(e.ResourceID),
		RequestID:    strings.TrimSpace(e.RequestID),
		IP:           ip,
		UserAgent:    strings.TrimSpace(e.UserAgent),
		Payload:      payloadJSON,
	}
}

func (r record) digest() (string, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeIntegritySHA256 returns the digest stored with event. Auditors
// recompute it from a row to detect edits.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	return event.record(payloadJSON).digest()
}

// Insert appends event and returns its event_id. A zero OccurredAt is set to
// now.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payloadJSON := []byte("{}")
	if event.Payload != nil {
		var err error
		if payloadJSON, err = json.Marshal(event.Payload); err != nil {
			return 0, fmt.Errorf("marshal payload: %w", err)
		}
	}
	if len(payloadJSON) > maxPayloadBytes {
		return 0, fmt.Errorf("audit payload is %d bytes, limit %d", len(payloadJSON), maxPayloadBytes)
	}

	rec := event.record(payloadJSON)
	integrity, err := rec.digest()
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(ctx, insertEventSQL,
		rec.OccurredAt, rec.Actor, rec.Action, rec.ResourceType, rec.ResourceID,
		optional(rec.RequestID), optional(rec.IP), optional(rec.UserAgent),
		rec.Payload, integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event %s: %w", rec.Action, err)
	}
	return id, nil
}

const insertEventSQL = `INSERT INTO audit_events (
	occurred_at, actor, action, resource_type, resource_id,
	request_id, ip, user_agent, payload, integrity_sha256
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING event_id`

func optional(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

