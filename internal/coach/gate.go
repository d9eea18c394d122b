package coach

import (
	"regexp"
	"strings"
)

// Examples quoted in the system instruction; genericPatterns enforces them.
var bannedQuestionExamples = []string{
	"How does that make you feel?",
	"What do you think you should do?",
	"What is one small step you can take?",
	"Have you considered talking to someone?",
	"What would your ideal outcome be?",
}

var genericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)how (does|did) (that|this) make you feel`),
	regexp.MustCompile(`(?i)what do you think you should do`),
	regexp.MustCompile(`(?i)what(?:'s| is) (?:one|a) small step (?:you|that you) (?:can|could) take`),
	regexp.MustCompile(`(?i)have you considered talking to (?:someone|a professional)`),
	regexp.MustCompile(`(?i)what would your ideal outcome be`),
	regexp.MustCompile(`(?i)it sounds like you(?:'re| are) (?:going through|dealing with) a lot`),
	regexp.MustCompile(`(?i)remember to be kind to yourself`),
	regexp.MustCompile(`(?i)\bas an ai\b`),
	regexp.MustCompile(`(?i)everyone(?:'s| is) journey is different`),
}

// Rejection reasons.
const (
	ReasonGeneric   = "generic_pattern"
	ReasonDuplicate = "duplicate"
	ReasonOverlap   = "overlap"
)

// Verdict is the gate's decision on one candidate.
type Verdict struct {
	Accepted bool
	Reason   string
	Overlap  float64
}

// Gate rejects candidates that are generic or too close to recent replies.
// It checks novelty only, not meaning.
type Gate struct {
	Threshold float64
	Patterns  []*regexp.Regexp
}

// NewGate creates a gate with the built-in generic patterns.
func NewGate(threshold float64) Gate {
	return Gate{Threshold: threshold, Patterns: genericPatterns}
}

// Check evaluates a rendered candidate against prior coach replies.
func (g Gate) Check(candidate string, prior []string) Verdict {
	for _, p := range g.Patterns {
		if p.MatchString(candidate) {
			return Verdict{Reason: ReasonGeneric}
		}
	}

	norm := normalizeReply(candidate)
	words := contentWords(norm)
	var worst float64
	for _, prev := range prior {
		prevNorm := normalizeReply(prev)
		if prevNorm == norm {
			return Verdict{Reason: ReasonDuplicate, Overlap: 1}
		}
		score := overlap(words, contentWords(prevNorm))
		if score > worst {
			worst = score
		}
		if score >= g.Threshold {
			return Verdict{Reason: ReasonOverlap, Overlap: score}
		}
	}
	return Verdict{Accepted: true, Overlap: worst}
}

// overlap is |a ∩ b| / min(|a|, |b|); zero when either set is empty.
func overlap(a, b map[string]bool) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	if len(small) == 0 {
		return 0
	}
	shared := 0
	for w := range small {
		if large[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// avoidPhrases extracts the opening words of each section of recent
// replies so the prompt can forbid them.
func avoidPhrases(recent []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, reply := range recent {
		for _, section := range strings.Split(reply, "\n\n") {
			section = stripLeadIn(section)
			words := strings.Fields(section)
			if len(words) < 4 {
				continue
			}
			if len(words) > 8 {
				words = words[:8]
			}
			phrase := strings.Join(words, " ")
			if !seen[phrase] {
				seen[phrase] = true
				out = append(out, phrase)
			}
		}
	}
	return out
}

func stripLeadIn(section string) string {
	section = strings.TrimSpace(section)
	for _, label := range []string{"Reflection:", "Action step:", "Question:"} {
		section = strings.TrimSpace(strings.TrimPrefix(section, label))
	}
	for _, lead := range allLeadIns() {
		if strings.HasPrefix(section, lead) {
			return strings.TrimSpace(strings.TrimPrefix(section, lead))
		}
	}
	return section
}
