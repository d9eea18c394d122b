package coach

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/ashureev/guest-coach/internal/domain"
)

func history(pairs ...string) []domain.ConversationTurn {
	var turns []domain.ConversationTurn
	for i, content := range pairs {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		turns = append(turns, domain.ConversationTurn{Role: role, Content: content, Mode: domain.ModeCoach})
	}
	return turns
}

func TestBuildProfileIsIdempotent(t *testing.T) {
	h := history(
		"My manager keeps piling on projects and I'm exhausted",
		"Reflection: That sounds heavy.",
		"I want to ask for fewer projects but I'm nervous about my promotion",
		"Reflection: You're weighing visibility against energy.",
	)
	input := "Should I raise it at my next one-on-one?"

	first := BuildProfile(h, input)
	second := BuildProfile(h, input)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("profile not deterministic (-first +second):\n%s", diff)
	}
}

func TestBuildProfileIntentPriority(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Intent
	}{
		{"decision beats career", "I need to decide whether to accept the job offer", IntentDecision},
		{"career", "My boss ignored my work again in the team meeting", IntentCareer},
		{"purpose", "I keep wondering what gives my life meaning", IntentPurpose},
		{"habit", "I want a consistent morning routine", IntentHabit},
		{"emotion", "I feel lonely since moving here", IntentEmotion},
		{"general", "Planning a trip to the coast", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildProfile(nil, tt.input).Intent)
		})
	}
}

func TestBuildProfileTone(t *testing.T) {
	assert.Equal(t, ToneStressed, BuildProfile(nil, "I'm completely overwhelmed at work").Tone)
	assert.Equal(t, ToneUncertain, BuildProfile(nil, "I'm not sure which way to go").Tone)
	assert.Equal(t, ToneMotivated, BuildProfile(nil, "I'm excited to finally start").Tone)
	assert.Equal(t, ToneNeutral, BuildProfile(nil, "The weather changed today").Tone)
}

func TestStageBoundaries(t *testing.T) {
	tests := []struct {
		turns int
		want  Stage
	}{
		{1, StageOpening}, {2, StageOpening},
		{3, StageExploring}, {6, StageExploring},
		{7, StagePlanning}, {12, StagePlanning},
		{13, StageAccountability}, {40, StageAccountability},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stageFor(tt.turns), "turns=%d", tt.turns)
	}
}

func TestBuildProfileCountsCurrentTurn(t *testing.T) {
	h := history("one", "reply", "two", "reply")
	p := BuildProfile(h, "three")
	assert.Equal(t, 3, p.UserTurnCount)
	assert.Equal(t, StageExploring, p.Stage)
	assert.Equal(t, []string{"one", "two"}, p.RecentUserMessages)
	assert.Len(t, p.RecentAssistantMessages, 2)
}

func TestBuildProfileIgnoresNonCoachAssistantTurns(t *testing.T) {
	h := []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "hello there", Mode: domain.ModeCoach},
		{Role: domain.RoleAssistant, Content: "crisis resources", Mode: domain.ModeSafety},
		{Role: domain.RoleAssistant, Content: "what's on your mind?", Mode: domain.ModeClarify},
	}
	p := BuildProfile(h, "next")
	assert.Empty(t, p.RecentAssistantMessages)
}

func TestKeywordsRankByFrequencyThenOrder(t *testing.T) {
	got := keywords("budget travel budget plans travel budget weekend", 8)
	assert.Equal(t, []string{"budget", "travel", "plans", "weekend"}, got)

	assert.Empty(t, keywords("idk", 8))
	assert.Len(t, keywords("alpha beta gamma delta epsilon zeta eta theta iota kappa", 8), 8)
}
