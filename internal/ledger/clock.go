package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Clock stamps records. Timestamps are metadata only; they never enter a
// digest, so a replay under a different clock verifies the same way.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewEntityID returns a time-sortable UUIDv7 for callers that have no natural
// entity identity.
//
// Panics if UUID generation fails (should never happen in practice).
func NewEntityID() string {
	return uuid.Must(uuid.NewV7()).String()
}
