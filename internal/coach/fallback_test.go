package coach

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackDraftAlwaysComplete(t *testing.T) {
	inputs := []string{
		"",
		"idk",
		"I can't decide between two offers",
		strings.Repeat("supercalifragilistic ", 200),
		"私は仕事を変えたい",
	}
	tones := []Tone{ToneStressed, ToneUncertain, ToneMotivated, ToneNeutral, Tone("unknown")}
	lenses := []Lens{LensClarify, LensBlocker, LensValues, LensExperiment, LensDecision, LensAccountability, Lens("")}

	for _, input := range inputs {
		p := BuildProfile(nil, input)
		for _, tone := range tones {
			p.Tone = tone
			for _, lens := range lenses {
				for salt := 0; salt < 4; salt++ {
					d := FallbackDraft(p, lens, input, salt)
					require.True(t, d.Complete(), "input=%q tone=%s lens=%s", input, tone, lens)
					require.True(t, withinBounds(d), "input=%q tone=%s lens=%s", input, tone, lens)
				}
			}
		}
	}
}

func TestFallbackDraftIsSeededAndTopical(t *testing.T) {
	p := BuildProfile(nil, "My garden keeps dying every summer")
	a := FallbackDraft(p, LensExperiment, "My garden keeps dying every summer", 0)
	b := FallbackDraft(p, LensExperiment, "My garden keeps dying every summer", 0)
	assert.Equal(t, a, b)
	assert.Contains(t, a.ActionStep, "garden")
}

func TestFallbackDraftSaltsDiffer(t *testing.T) {
	p := BuildProfile(nil, "I want to learn piano")
	prev := FallbackDraft(p, LensDecision, "I want to learn piano", 0)
	for salt := 1; salt < 6; salt++ {
		next := FallbackDraft(p, LensDecision, "I want to learn piano", salt)
		assert.NotEqual(t, prev.ActionStep, next.ActionStep)
		assert.NotEqual(t, prev.FollowUpQuestion, next.FollowUpQuestion)
		prev = next
	}
}

func TestFallbackDraftPassesGenericGate(t *testing.T) {
	gate := NewGate(0.70)
	for _, lens := range []Lens{LensClarify, LensBlocker, LensValues, LensExperiment, LensDecision, LensAccountability} {
		for salt := 0; salt < 3; salt++ {
			d := FallbackDraft(Profile{Tone: ToneNeutral, Keywords: []string{"budget"}}, lens, "budget", salt)
			assert.True(t, gate.Check(Render(d, "seed"), nil).Accepted, "lens=%s salt=%d", lens, salt)
		}
	}
}
