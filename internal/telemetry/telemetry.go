// Package telemetry delivers best-effort analytics events off the request
// path.
package telemetry

import (
	"context"
	"time"
)

// Event names emitted by the chat pipeline.
const (
	EventModelSelected   = "model_selected"
	EventRetryOccurred   = "retry_occurred"
	EventClarifierIssued = "clarifier_issued"
	EventSummaryUpdated  = "summary_updated"
	EventFallbackUsed    = "fallback_used"
	EventTurnCompleted   = "turn_completed"
	EventSafetyIntercept = "safety_intercept"
	EventRateLimited     = "rate_limited"
)

// Event is one analytics record.
type Event struct {
	Name      string
	GuestID   string
	SessionID string
	Meta      map[string]any
	At        time.Time
}

// Sink accepts events. Implementations must not block the caller for long
// and must swallow their own failures.
type Sink interface {
	Track(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// Track implements Sink.
func (Nop) Track(context.Context, Event) {}
