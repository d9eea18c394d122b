// Package chat runs one guest message through admission, the safety
// filter and the coaching engine, and persists the resulting exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/guest-coach/internal/coach"
	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/rollout"
	"github.com/ashureev/guest-coach/internal/safety"
	"github.com/ashureev/guest-coach/internal/shared"
	"github.com/ashureev/guest-coach/internal/store"
	"github.com/ashureev/guest-coach/internal/telemetry"
)

// Request errors mapped to client status codes by the transports.
var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message too long")
)

const defaultMaxMessageChars = 2000

// Replier produces the assistant reply for one turn.
type Replier interface {
	Reply(ctx context.Context, in coach.TurnInput) (*coach.TurnResult, error)
	ReplyBasic(ctx context.Context, in coach.TurnInput) (*coach.TurnResult, error)
}

// Limiter admits or rejects a request for a key.
type Limiter interface {
	Allow(key string) bool
	RetryAfter(key string) time.Duration
}

// SnapshotGenerator extracts a purpose snapshot from a thread.
type SnapshotGenerator interface {
	Generate(ctx context.Context, sessionID string, turns []domain.ConversationTurn) (*domain.Snapshot, error)
}

// Config wires a Service.
type Config struct {
	Repo            store.Repository
	Engine          Replier
	Snapshots       SnapshotGenerator
	Limiter         Limiter
	Safety          *safety.Filter
	Telemetry       telemetry.Sink
	MaxMessageChars int
	RolloutPercent  int
	Logger          *slog.Logger
}

// Service is the per-request chat pipeline.
type Service struct {
	repo            store.Repository
	engine          Replier
	snapshots       SnapshotGenerator
	limiter         Limiter
	safety          *safety.Filter
	sink            telemetry.Sink
	maxMessageChars int
	rolloutPercent  int
	logger          *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Nop{}
	}
	if cfg.Safety == nil {
		cfg.Safety = safety.NewFilter()
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = defaultMaxMessageChars
	}
	return &Service{
		repo:            cfg.Repo,
		engine:          cfg.Engine,
		snapshots:       cfg.Snapshots,
		limiter:         cfg.Limiter,
		safety:          cfg.Safety,
		sink:            cfg.Telemetry,
		maxMessageChars: cfg.MaxMessageChars,
		rolloutPercent:  cfg.RolloutPercent,
		logger:          cfg.Logger,
	}
}

// Reply is what a guest sees after sending a message.
type Reply struct {
	Reply     string          `json:"reply"`
	Kind      string          `json:"kind"`
	Mode      domain.TurnMode `json:"mode"`
	SessionID string          `json:"sessionId"`
	Sections  *coach.Draft    `json:"sections,omitempty"`
	Lens      string          `json:"lens,omitempty"`
	Model     string          `json:"model,omitempty"`
}

// KindSafety marks replies produced by the self-harm filter.
const KindSafety = "safety"

// Send processes one guest message and commits the user turn, the assistant
// turn and the session state change together.
func (s *Service) Send(ctx context.Context, guestID, message string) (*Reply, error) {
	if s.limiter != nil && !s.limiter.Allow(guestID) {
		s.sink.Track(ctx, telemetry.Event{
			Name:    telemetry.EventRateLimited,
			GuestID: guestID,
			Meta:    map[string]any{"retry_after_ms": s.limiter.RetryAfter(guestID).Milliseconds()},
			At:      time.Now(),
		})
		return nil, ErrRateLimited
	}

	text := strings.TrimSpace(message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.maxMessageChars {
		return nil, ErrMessageTooLong
	}

	sess, err := s.repo.GetOrCreateActiveSession(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	if res := s.safety.Check(text); res.Flagged {
		return s.intercept(ctx, guestID, sess.SessionID, text, res)
	}

	in := coach.TurnInput{GuestID: guestID, SessionID: sess.SessionID, Text: text}
	var result *coach.TurnResult
	if rollout.Enabled(guestID, s.rolloutPercent) {
		result, err = s.engine.Reply(ctx, in)
	} else {
		result, err = s.engine.ReplyBasic(ctx, in)
	}
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	if err := s.persist(ctx, sess.SessionID, result.Patch, text, domain.ModeCoach, result.Reply, result.Mode); err != nil {
		return nil, err
	}

	s.logger.Info("chat turn completed",
		"guest_id", guestID,
		"session_id", sess.SessionID,
		"kind", string(result.Kind),
		"model", result.Model,
		"retry_count", result.RetryCount,
		"fallback", result.FallbackUsed,
		"latency_ms", result.Latency.Milliseconds(),
	)
	return &Reply{
		Reply:     result.Reply,
		Kind:      string(result.Kind),
		Mode:      result.Mode,
		SessionID: sess.SessionID,
		Sections:  result.Draft,
		Lens:      string(result.Lens),
		Model:     result.Model,
	}, nil
}

func (s *Service) intercept(ctx context.Context, guestID, sessionID, text string, res safety.Result) (*Reply, error) {
	// A safety turn still consumes any pending clarifier.
	cleared := domain.SessionStatePatch{PendingClarifier: new(bool), ClarifierTopic: new(string)}
	if err := s.persist(ctx, sessionID, cleared, text, domain.ModeSafety, safety.Reply, domain.ModeSafety); err != nil {
		return nil, err
	}
	s.sink.Track(ctx, telemetry.Event{
		Name:      telemetry.EventSafetyIntercept,
		GuestID:   guestID,
		SessionID: sessionID,
		Meta:      map[string]any{"pattern": res.Pattern},
		At:        time.Now(),
	})
	s.logger.Warn("safety intercept", "guest_id", guestID, "session_id", sessionID)
	return &Reply{
		Reply:     safety.Reply,
		Kind:      KindSafety,
		Mode:      domain.ModeSafety,
		SessionID: sessionID,
	}, nil
}

func (s *Service) persist(ctx context.Context, sessionID string, patch domain.SessionStatePatch, userText string, userMode domain.TurnMode, reply string, replyMode domain.TurnMode) error {
	now := time.Now().UTC()
	_, err := s.repo.CommitTurn(ctx, sessionID, patch,
		domain.ConversationTurn{
			TurnID:    shared.NewOrderedID(now),
			SessionID: sessionID,
			Role:      domain.RoleUser,
			Content:   userText,
			Mode:      userMode,
			CreatedAt: now,
		},
		domain.ConversationTurn{
			TurnID:    shared.NewOrderedID(now),
			SessionID: sessionID,
			Role:      domain.RoleAssistant,
			Content:   reply,
			Mode:      replyMode,
			CreatedAt: now,
		},
	)
	if err != nil {
		return fmt.Errorf("persist turns: %w", err)
	}
	return nil
}

// History returns the active thread and its turns.
func (s *Service) History(ctx context.Context, guestID string) (*domain.Session, []domain.ConversationTurn, error) {
	sess, err := s.repo.GetOrCreateActiveSession(ctx, guestID)
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}
	turns, err := s.repo.ListTurns(ctx, sess.SessionID, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("list turns: %w", err)
	}
	return sess, turns, nil
}

// Reset archives the active thread and opens a fresh one.
func (s *Service) Reset(ctx context.Context, guestID string) (*domain.Session, error) {
	if err := s.repo.ArchiveActiveSession(ctx, guestID); err != nil {
		return nil, fmt.Errorf("archive session: %w", err)
	}
	sess, err := s.repo.GetOrCreateActiveSession(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.logger.Info("chat thread reset", "guest_id", guestID, "session_id", sess.SessionID)
	return sess, nil
}

// GenerateSnapshot extracts and stores a purpose snapshot for the active
// thread.
func (s *Service) GenerateSnapshot(ctx context.Context, guestID string) (*domain.Snapshot, error) {
	sess, turns, err := s.History(ctx, guestID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Generate(ctx, sess.SessionID, turns)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return snap, nil
}

// LatestSnapshot returns the newest snapshot for the active thread, or
// store.ErrNotFound.
func (s *Service) LatestSnapshot(ctx context.Context, guestID string) (*domain.Snapshot, error) {
	sess, err := s.repo.GetOrCreateActiveSession(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	snap, err := s.repo.GetLatestSnapshotForSession(ctx, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return nil, store.ErrNotFound
	}
	return snap, nil
}

// Me describes the calling guest.
type Me struct {
	GuestID    string    `json:"guestId"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	SessionID  string    `json:"sessionId"`
	TurnCount  int       `json:"turnCount"`
}

// Me returns the guest record and the size of the active thread.
func (s *Service) Me(ctx context.Context, guestID string) (*Me, error) {
	guest, err := s.repo.GetGuest(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("load guest: %w", err)
	}
	if guest == nil {
		return nil, store.ErrNotFound
	}
	sess, turns, err := s.History(ctx, guestID)
	if err != nil {
		return nil, err
	}
	return &Me{
		GuestID:    guest.GuestID,
		CreatedAt:  guest.CreatedAt,
		LastSeenAt: guest.LastSeenAt,
		SessionID:  sess.SessionID,
		TurnCount:  len(turns),
	}, nil
}

// Erase deletes every record attached to the guest and returns the number
// of threads removed.
func (s *Service) Erase(ctx context.Context, guestID string) (int64, error) {
	n, err := s.repo.DeleteGuestData(ctx, guestID)
	if err != nil {
		return 0, fmt.Errorf("erase guest: %w", err)
	}
	s.logger.Info("guest data erased", "guest_id", guestID, "sessions", n)
	return n, nil
}
