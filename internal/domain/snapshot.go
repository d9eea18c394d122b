package domain

import "time"

// Snapshot is a point-in-time extraction of what the guest is working toward.
type Snapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	SessionID  string    `json:"session_id"`
	Purpose    string    `json:"purpose"`
	Values     []string  `json:"values"`
	Strengths  []string  `json:"strengths"`
	NextStep   string    `json:"next_step"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// AnalyticsEvent is a persisted telemetry record.
type AnalyticsEvent struct {
	EventID   string         `json:"event_id"`
	GuestID   string         `json:"guest_id"`
	SessionID string         `json:"session_id"`
	Name      string         `json:"name"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
