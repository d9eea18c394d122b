package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/guest-coach/internal/coach"
	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/snapshot"
	"github.com/ashureev/guest-coach/internal/store"
	"github.com/ashureev/guest-coach/internal/telemetry"
)

const testGuest = "guest_0123456789abcdef0123456789abcdef"

type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *recordingSink) Track(_ context.Context, ev telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) named(name string) []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// stubReplier records which engine path ran.
type stubReplier struct {
	mu     sync.Mutex
	full   int
	basic  int
	err    error
	inputs []coach.TurnInput
}

func (r *stubReplier) Reply(_ context.Context, in coach.TurnInput) (*coach.TurnResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.full++
	return r.result(in)
}

func (r *stubReplier) ReplyBasic(_ context.Context, in coach.TurnInput) (*coach.TurnResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.basic++
	return r.result(in)
}

func (r *stubReplier) result(in coach.TurnInput) (*coach.TurnResult, error) {
	r.inputs = append(r.inputs, in)
	if r.err != nil {
		return nil, r.err
	}
	d := coach.Draft{Reflection: "r", ActionStep: "a", FollowUpQuestion: "q?"}
	return &coach.TurnResult{
		Kind:  coach.KindCoach,
		Mode:  domain.ModeCoach,
		Reply: coach.Render(d, in.Text),
		Draft: &d,
		Model: "stub",
	}, nil
}

type fixedLimiter struct {
	allow bool
}

func (l fixedLimiter) Allow(string) bool { return l.allow }

func (l fixedLimiter) RetryAfter(string) time.Duration {
	if l.allow {
		return 0
	}
	return 30 * time.Second
}

func newTestRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	now := time.Now()
	require.NoError(t, repo.UpsertGuest(context.Background(), &domain.Guest{
		GuestID: testGuest, CreatedAt: now, LastSeenAt: now,
	}))
	return repo
}

type serviceOptions struct {
	replier Replier
	limiter Limiter
	rollout int
	sink    *recordingSink
}

func newTestService(t *testing.T, repo store.Repository, opts serviceOptions) *Service {
	t.Helper()
	if opts.replier == nil {
		opts.replier = coach.NewEngine(coach.Config{Store: repo, Tuning: coach.DefaultTuning()})
	}
	if opts.limiter == nil {
		opts.limiter = fixedLimiter{allow: true}
	}
	cfg := Config{
		Repo:            repo,
		Engine:          opts.replier,
		Snapshots:       snapshot.NewGenerator(nil, "summary-model", 0, nil),
		Limiter:         opts.limiter,
		MaxMessageChars: 200,
		RolloutPercent:  opts.rollout,
	}
	if opts.sink != nil {
		cfg.Telemetry = opts.sink
	}
	return NewService(cfg)
}

// failingCommit is a repository whose turn commits always fail.
type failingCommit struct {
	store.Repository
	err error
}

func (f failingCommit) CommitTurn(context.Context, string, domain.SessionStatePatch, ...domain.ConversationTurn) (*domain.SessionState, error) {
	return nil, f.err
}

func errStateStoreForTest() error {
	return fmt.Errorf("%w: load state: database is closed", coach.ErrStateStore)
}
