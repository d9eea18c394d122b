package coach

import (
	"regexp"
)

// Tier is a language-model cost/quality class.
type Tier string

const (
	TierFast    Tier = "fast"
	TierPrimary Tier = "primary"
)

var tradeoffPattern = regexp.MustCompile(`(?i)(between|trade-?off|multiple|options|conflict)`)

// Route is the router's decision with its audit trail.
type Route struct {
	Tier    Tier
	Score   int
	Reasons []string
}

// RouteModel scores conversational complexity and picks a tier. Long,
// decision-heavy or emotionally loaded turns go to the primary tier.
func RouteModel(p Profile, text string, t RouterTuning) Route {
	var r Route
	add := func(points int, reason string) {
		r.Score += points
		r.Reasons = append(r.Reasons, reason)
	}

	if len(tokenize(text)) >= t.LongInputTokens {
		add(2, "long_input")
	}
	if p.Stage == StagePlanning || p.Stage == StageAccountability {
		add(1, "late_stage")
	}
	if p.Intent == IntentDecision || p.Intent == IntentPurpose {
		add(2, "weighty_intent")
	}
	if p.Tone == ToneStressed || p.Tone == ToneUncertain {
		add(1, "loaded_tone")
	}
	if tradeoffPattern.MatchString(text) {
		add(2, "tradeoff")
	}
	if p.AggregateChars >= t.LargeContextChars {
		add(1, "large_context")
	}

	r.Tier = TierFast
	if r.Score >= t.PrimaryScore {
		r.Tier = TierPrimary
	}
	return r
}

// Models maps tiers to concrete model identifiers.
type Models struct {
	Fast    string
	Primary string
	Summary string
}

// For returns the model ID for a tier.
func (m Models) For(t Tier) string {
	if t == TierPrimary {
		return m.Primary
	}
	return m.Fast
}
