package coach

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/llm"
	"github.com/ashureev/guest-coach/internal/telemetry"
)

var testModels = Models{Fast: "fast-model", Primary: "primary-model", Summary: "summary-model"}

// fakeLLM serves queued draft responses and a fixed summary response.
type fakeLLM struct {
	mu       sync.Mutex
	drafts   []string
	summary  string
	draftErr error
	requests []llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	if req.Model == testModels.Summary {
		if f.summary == "" {
			return nil, errors.New("summary unavailable")
		}
		return &llm.Response{Text: f.summary}, nil
	}
	if f.draftErr != nil {
		return nil, f.draftErr
	}
	if len(f.drafts) == 0 {
		return nil, errors.New("no scripted draft left")
	}
	text := f.drafts[0]
	f.drafts = f.drafts[1:]
	return &llm.Response{Text: text, Usage: llm.Usage{InputTokens: 120, OutputTokens: 60}}, nil
}

func (f *fakeLLM) draftRequests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Request
	for _, r := range f.requests {
		if r.Model != testModels.Summary {
			out = append(out, r)
		}
	}
	return out
}

// memStore is an in-memory Store for a single session.
type memStore struct {
	mu         sync.Mutex
	state      domain.SessionState
	turns      []domain.ConversationTurn
	snapshot   *domain.Snapshot
	failLoad   error
}

func (m *memStore) GetOrCreateSessionState(_ context.Context, sessionID string) (*domain.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	st := m.state
	st.SessionID = sessionID
	return &st, nil
}

func (m *memStore) ListTurns(_ context.Context, _ string, limit int) ([]domain.ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := append([]domain.ConversationTurn(nil), m.turns...)
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (m *memStore) GetLatestSnapshotForSession(context.Context, string) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

func (m *memStore) add(role domain.Role, mode domain.TurnMode, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, domain.ConversationTurn{
		SessionID: "sess",
		Role:      role,
		Content:   content,
		Mode:      mode,
		CreatedAt: time.Now(),
	})
}

func (m *memStore) exchange(user, assistant string) {
	m.add(domain.RoleUser, domain.ModeCoach, user)
	m.add(domain.RoleAssistant, domain.ModeCoach, assistant)
}

// commit records a finished turn the way the chat service does.
func (m *memStore) commit(user string, res *TurnResult) {
	m.add(domain.RoleUser, domain.ModeCoach, user)
	m.add(domain.RoleAssistant, res.Mode, res.Reply)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Apply(res.Patch)
}

// recordingSink captures telemetry events.
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

func draftJSON(d Draft) string {
	b, _ := json.Marshal(d)
	return string(b)
}

func withinBounds(d Draft) bool {
	return len([]rune(d.Reflection)) <= MaxReflectionChars &&
		len([]rune(d.ActionStep)) <= MaxActionChars &&
		len([]rune(d.FollowUpQuestion)) <= MaxQuestionChars
}

func hasSections(reply string) bool {
	r := strings.Index(reply, "Reflection: ")
	a := strings.Index(reply, "\n\nAction step: ")
	q := strings.Index(reply, "\n\nQuestion: ")
	return r == 0 && a > r && q > a
}
