package coach

// Lens is a thematic instruction profile steering one turn's prompt.
type Lens string

const (
	LensClarify        Lens = "clarify"
	LensBlocker        Lens = "blocker"
	LensValues         Lens = "values"
	LensExperiment     Lens = "experiment"
	LensDecision       Lens = "decision"
	LensAccountability Lens = "accountability"
)

// Candidate lenses per intent, in priority order.
var lensCandidates = map[Intent][]Lens{
	IntentDecision: {LensDecision, LensValues, LensExperiment, LensBlocker},
	IntentCareer:   {LensDecision, LensExperiment, LensAccountability, LensValues},
	IntentPurpose:  {LensValues, LensClarify, LensExperiment},
	IntentHabit:    {LensExperiment, LensAccountability, LensBlocker},
	IntentEmotion:  {LensClarify, LensBlocker, LensValues},
	IntentGeneral:  {LensClarify, LensExperiment, LensBlocker, LensAccountability},
}

var lensInstructions = map[Lens]string{
	LensClarify:        "Help the guest sharpen what they actually want. Reflect the core of what they said and surface the one detail that is still vague.",
	LensBlocker:        "Identify the most likely obstacle holding them back and propose a small way around it.",
	LensValues:         "Connect the situation to what the guest seems to care about. Name the value at stake without moralizing.",
	LensExperiment:     "Frame the next move as a low-risk experiment with a short time box and a clear signal of success.",
	LensDecision:       "Structure the choice: options, criteria, and what information would tip the balance.",
	LensAccountability: "Check progress against what they committed to and set a concrete, checkable next commitment.",
}

// lensSeed composes the seed string used for lens selection.
func lensSeed(text string, last Lens, p Profile) string {
	return text + "|" + string(last) + "|" + string(p.Stage) + "|" + string(p.Intent)
}

// SelectLens picks a lens for the turn. Opening turns always clarify.
// Otherwise a seeded candidate for the intent is chosen, and a repeat of
// last (other than clarify) is replaced by the first differing candidate.
func SelectLens(p Profile, last Lens, seed string) Lens {
	if p.Stage == StageOpening {
		return LensClarify
	}
	candidates := lensCandidates[p.Intent]
	if len(candidates) == 0 {
		candidates = lensCandidates[IntentGeneral]
	}

	lens := candidates[pickIndex(seed, len(candidates))]
	if lens == last && lens != LensClarify {
		for _, c := range candidates {
			if c != last {
				return c
			}
		}
	}
	return lens
}
