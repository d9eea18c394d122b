package coach

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectLensOpeningAlwaysClarifies(t *testing.T) {
	p := Profile{Intent: IntentDecision, Stage: StageOpening}
	for i := 0; i < 20; i++ {
		assert.Equal(t, LensClarify, SelectLens(p, LensDecision, fmt.Sprintf("seed-%d", i)))
	}
}

func TestSelectLensAvoidsImmediateRepeat(t *testing.T) {
	for intent, candidates := range lensCandidates {
		for _, stage := range []Stage{StageExploring, StagePlanning, StageAccountability} {
			p := Profile{Intent: intent, Stage: stage}
			for _, last := range candidates {
				if last == LensClarify {
					continue
				}
				for i := 0; i < 50; i++ {
					seed := lensSeed(fmt.Sprintf("message %d", i), last, p)
					got := SelectLens(p, last, seed)
					assert.NotEqual(t, last, got, "intent=%s stage=%s seed=%q", intent, stage, seed)
					assert.Contains(t, candidates, got)
				}
			}
		}
	}
}

func TestSelectLensIsDeterministic(t *testing.T) {
	p := Profile{Intent: IntentHabit, Stage: StagePlanning}
	seed := lensSeed("I keep skipping the gym", LensBlocker, p)
	assert.Equal(t, SelectLens(p, LensBlocker, seed), SelectLens(p, LensBlocker, seed))
}

func TestSeedHashIsStable(t *testing.T) {
	assert.Equal(t, uint32(0), seedHash(""))
	assert.Equal(t, uint32('a'), seedHash("a"))
	assert.Equal(t, uint32('a')*31+uint32('b'), seedHash("ab"))
	assert.Equal(t, 0, pickIndex("anything", 0))
	assert.Equal(t, "", pick("anything", nil))
}
