package shared

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewOrderedID returns a ULID. IDs generated by one process sort in
// creation order, which the store relies on to order turns.
func NewOrderedID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// NewID returns a random identifier for records that need no ordering.
func NewID() string {
	return uuid.NewString()
}
