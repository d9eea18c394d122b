// Package domain contains core domain types for the guest coaching service.
package domain

import (
	"time"
)

// Guest is an anonymous browser identity. Guests never authenticate; the
// identity cookie is the only credential.
type Guest struct {
	GuestID    string    `json:"guest_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Seen reports whether the guest has been active within the given window.
func (g *Guest) Seen(window time.Duration) bool {
	return time.Since(g.LastSeenAt) <= window
}
