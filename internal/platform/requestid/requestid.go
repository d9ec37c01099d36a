// Package requestid generates and vets the correlation ids shared by
// release-publisher, release-registry and the audit log.
package requestid

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-Id"

// MaxLen bounds ids accepted from callers; longer values are replaced.
const MaxLen = 128

// New returns a 32-character hex id. Ids are UUIDv7, so they sort by
// creation time in logs and audit rows.
func New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(id[:]), nil
}

// Valid reports whether a caller-supplied id may be propagated as is. Only
// printable ASCII without spaces is allowed so ids cannot forge log fields.
func Valid(id string) bool {
	if id == "" || len(id) > MaxLen {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool { return r <= ' ' || r > '~' }) < 0
}
