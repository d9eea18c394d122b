package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/llm"
)

type stubClient struct {
	text string
	err  error
	req  llm.Request
}

func (s *stubClient) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.text}, nil
}

func conversation() []domain.ConversationTurn {
	return []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "I want my photography to become a real business", Mode: domain.ModeCoach},
		{Role: domain.RoleAssistant, Content: "Reflection: ...", Mode: domain.ModeCoach},
		{Role: domain.RoleUser, Content: "Photography is the only thing that makes me lose track of time", Mode: domain.ModeCoach},
	}
}

func TestGenerateFromModel(t *testing.T) {
	client := &stubClient{text: `{"purpose":"Turn photography into a livelihood.","core_values":["Craft","Freedom"],"strengths":["Focus"],"next_step":"Price three portfolio packages."}`}
	g := NewGenerator(client, "summary-model", 0, nil)

	snap, err := g.Generate(context.Background(), "sess", conversation())
	require.NoError(t, err)
	assert.Equal(t, "sess", snap.SessionID)
	assert.NotEmpty(t, snap.SnapshotID)
	assert.Equal(t, "Turn photography into a livelihood.", snap.Purpose)
	assert.Equal(t, []string{"Craft", "Freedom"}, snap.Values)
	assert.Equal(t, []string{"Focus"}, snap.Strengths)
	assert.Equal(t, "Price three portfolio packages.", snap.NextStep)
	assert.Equal(t, "summary-model", snap.Model)
	assert.Contains(t, client.req.Prompt, "lose track of time")
}

func TestGenerateFallsBackToHeuristic(t *testing.T) {
	for _, client := range []llm.Client{nil, &stubClient{err: errors.New("down")}, &stubClient{text: `{"purpose":""}`}} {
		g := NewGenerator(client, "summary-model", 0, nil)
		snap, err := g.Generate(context.Background(), "sess", conversation())
		require.NoError(t, err)

		assert.Equal(t, heuristicModel, snap.Model)
		assert.Contains(t, snap.Purpose, "photography")
		assert.Contains(t, snap.Values, "photography")
		assert.NotEmpty(t, snap.Strengths)
		assert.LessOrEqual(t, len(snap.Strengths), maxItems)
		assert.NotEmpty(t, snap.NextStep)
	}
}

func TestGenerateRequiresUserTurns(t *testing.T) {
	g := NewGenerator(nil, "summary-model", 0, nil)
	_, err := g.Generate(context.Background(), "sess", []domain.ConversationTurn{
		{Role: domain.RoleAssistant, Content: "hello", Mode: domain.ModeCoach},
	})
	assert.ErrorIs(t, err, ErrNoUserTurns)
}
