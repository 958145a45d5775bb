package generic

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTITY & AUDIT
// =============================================================================

// Actor is the identity of whoever performs a mutation. It is supplied by
// the caller (identity provider) and trusted as-is.
type Actor string

// Clock returns the current time. Orchestrators take one so tests can pin
// timestamps.
type Clock func() time.Time

// UTCNow is the default clock.
func UTCNow() time.Time { return time.Now().UTC() }

// NewID returns a random identifier for a new row.
func NewID() string { return uuid.NewString() }
