// Package rollout decides which guests run the adaptive reply engine.
package rollout

import "hash/fnv"

// Bucket maps a guest ID onto [0, 100) with FNV-1a.
func Bucket(guestID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(guestID))
	return int(h.Sum32() % 100)
}

// Enabled reports whether guestID falls inside a percent rollout. percent
// is clamped to [0, 100].
func Enabled(guestID string, percent int) bool {
	switch {
	case percent <= 0:
		return false
	case percent >= 100:
		return true
	}
	return Bucket(guestID) < percent
}
