// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/guest-coach/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines persistence for guests, conversation threads and
// coaching state.
type Repository interface {
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetGuest retrieves a guest, or nil when unknown.
	GetGuest(ctx context.Context, guestID string) (*domain.Guest, error)

	// UpsertGuest creates a guest or refreshes its last_seen_at.
	UpsertGuest(ctx context.Context, guest *domain.Guest) error

	// DeleteGuestData erases a guest and everything attached to it.
	DeleteGuestData(ctx context.Context, guestID string) (int64, error)

	// GetOrCreateActiveSession returns the guest's open thread, opening one if needed.
	GetOrCreateActiveSession(ctx context.Context, guestID string) (*domain.Session, error)

	// ArchiveActiveSession closes the guest's open thread, if any.
	ArchiveActiveSession(ctx context.Context, guestID string) error

	// AppendTurns inserts turns atomically.
	AppendTurns(ctx context.Context, turns ...domain.ConversationTurn) error
	// CommitTurn inserts turns and applies patch in one transaction.
	CommitTurn(ctx context.Context, sessionID string, patch domain.SessionStatePatch, turns ...domain.ConversationTurn) (*domain.SessionState, error)

	// ListTurns returns the last limit turns oldest first; limit <= 0 returns all.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error)

	// GetOrCreateSessionState returns the session's coaching memory, creating it lazily.
	GetOrCreateSessionState(ctx context.Context, sessionID string) (*domain.SessionState, error)

	// UpdateSessionState applies a partial patch and returns the stored result.
	UpdateSessionState(ctx context.Context, sessionID string, patch domain.SessionStatePatch) (*domain.SessionState, error)

	// SaveSnapshot stores a purpose snapshot.
	SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error

	// GetLatestSnapshotForSession returns the newest snapshot, or nil when none exists.
	GetLatestSnapshotForSession(ctx context.Context, sessionID string) (*domain.Snapshot, error)

	// RecordEvent persists an analytics event.
	RecordEvent(ctx context.Context, event *domain.AnalyticsEvent) error

	// PurgeEventsBefore deletes analytics events older than cutoff.
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
