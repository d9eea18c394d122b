// Package snapshot extracts a purpose snapshot from a conversation.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/guest-coach/internal/coach"
	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/llm"
	"github.com/ashureev/guest-coach/internal/shared"
)

// ErrNoUserTurns is returned when there is nothing to extract from.
var ErrNoUserTurns = errors.New("no user turns to snapshot")

const (
	maxItems        = 5
	maxPurposeChars = 240
	maxItemChars    = 80
	maxNextChars    = 240
	promptTurns     = 12
	heuristicModel  = "heuristic"
)

var fields = []llm.Field{
	{Name: "purpose", Type: llm.FieldString, Description: "One sentence naming what the guest is working toward."},
	{Name: "values", Type: llm.FieldStringList, Description: "Up to five values the guest expressed."},
	{Name: "strengths", Type: llm.FieldStringList, Description: "Up to five strengths the guest showed."},
	{Name: "nextStep", Type: llm.FieldString, Description: "One concrete next step."},
}

var (
	purposeAliases   = []string{"purpose", "purposeStatement", "purpose_statement"}
	valuesAliases    = []string{"values", "coreValues", "core_values"}
	strengthsAliases = []string{"strengths", "strength"}
	nextStepAliases  = []string{"nextStep", "next_step", "action", "actionStep"}
)

var toneStrengths = map[coach.Tone][]string{
	coach.ToneMotivated: {"Energy to act", "Clear intent"},
	coach.ToneUncertain: {"Willingness to question assumptions", "Openness"},
	coach.ToneStressed:  {"Honesty about pressure", "Persistence"},
	coach.ToneNeutral:   {"Curiosity", "Steadiness"},
}

// Generator produces snapshots with the summary model, degrading to a
// keyword heuristic when the model is unavailable.
type Generator struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewGenerator creates a Generator. A nil client always uses the heuristic.
func NewGenerator(client llm.Client, model string, timeout time.Duration, logger *slog.Logger) *Generator {
	if client == nil {
		client = llm.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, model: model, timeout: timeout, logger: logger, now: time.Now}
}

// Generate builds a snapshot for sessionID from its turns.
func (g *Generator) Generate(ctx context.Context, sessionID string, turns []domain.ConversationTurn) (*domain.Snapshot, error) {
	users := domain.UserTurns(turns)
	if len(users) == 0 {
		return nil, ErrNoUserTurns
	}

	snap := &domain.Snapshot{
		SnapshotID: shared.NewID(),
		SessionID:  sessionID,
		CreatedAt:  g.now(),
	}
	if g.fromModel(ctx, snap, users) {
		return snap, nil
	}
	g.fromHeuristic(snap, turns, users)
	return snap, nil
}

func (g *Generator) fromModel(ctx context.Context, snap *domain.Snapshot, users []domain.ConversationTurn) bool {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if len(users) > promptTurns {
		users = users[len(users)-promptTurns:]
	}
	var b strings.Builder
	b.WriteString("Guest messages from a coaching conversation:\n")
	for _, t := range users {
		fmt.Fprintf(&b, "- %s\n", domain.TruncateRunes(t.Content, 500))
	}
	b.WriteString("Extract purpose, values, strengths and nextStep. Use the guest's own framing. No diagnoses.\n")

	resp, err := g.client.Generate(ctx, llm.Request{
		Model:           g.model,
		System:          "You extract a short purpose snapshot from a coaching conversation.",
		Prompt:          b.String(),
		Fields:          fields,
		Temperature:     0.3,
		MaxOutputTokens: 400,
	})
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			g.logger.Warn("snapshot generation failed", "model", g.model, "error", err)
		}
		return false
	}

	obj, ok := llm.DecodeObject(llm.StripFence(resp.Text))
	if !ok {
		g.logger.Warn("snapshot response unparseable", "model", g.model)
		return false
	}
	purpose := llm.LookupString(obj, purposeAliases)
	next := llm.LookupString(obj, nextStepAliases)
	if purpose == "" || next == "" {
		return false
	}

	snap.Purpose = domain.TruncateRunes(purpose, maxPurposeChars)
	snap.Values = domain.BoundList(llm.LookupList(obj, valuesAliases), maxItems, maxItemChars)
	snap.Strengths = domain.BoundList(llm.LookupList(obj, strengthsAliases), maxItems, maxItemChars)
	snap.NextStep = domain.TruncateRunes(next, maxNextChars)
	snap.Model = resp.Model
	if snap.Model == "" {
		snap.Model = g.model
	}
	return true
}

func (g *Generator) fromHeuristic(snap *domain.Snapshot, turns, users []domain.ConversationTurn) {
	last := users[len(users)-1].Content
	p := coach.BuildProfile(turns[:indexOfLastUser(turns)], last)
	topic := p.TopKeyword("what matters most to you")

	snap.Purpose = fmt.Sprintf("Make real progress on %s.", topic)
	n := min(3, len(p.Keywords))
	snap.Values = domain.BoundList(p.Keywords[:n], maxItems, maxItemChars)
	strengths := toneStrengths[p.Tone]
	if len(strengths) == 0 {
		strengths = toneStrengths[coach.ToneNeutral]
	}
	snap.Strengths = append([]string{"Showing up to reflect"}, strengths...)
	snap.NextStep = coach.FallbackDraft(p, coach.LensValues, last, 0).ActionStep
	snap.Model = heuristicModel
}

func indexOfLastUser(turns []domain.ConversationTurn) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			return i
		}
	}
	return 0
}
