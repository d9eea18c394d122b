// Package safety screens guest messages for self-harm risk before any
// coaching happens.
package safety

import "regexp"

// Reply is sent instead of coaching when a message is flagged.
const Reply = "I'm really sorry you're going through this. I'm not able to help with this in a coaching chat, " +
	"but you deserve support right now. If you are in immediate danger, please call your local emergency number. " +
	"In the US you can call or text 988 to reach the Suicide & Crisis Lifeline, and in the UK and Ireland you can call Samaritans on 116 123. " +
	"If you're elsewhere, findahelpline.com lists free, confidential services near you. " +
	"If you can, reach out to someone you trust and let them know how you're feeling."

var riskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(kill|hurt|harm|cut)\s+(myself|my\s*self)\b`),
	regexp.MustCompile(`(?i)\bsuicid(e|al)\b`),
	regexp.MustCompile(`(?i)\b(end|take)\s+(my|my\s+own)\s+life\b`),
	regexp.MustCompile(`(?i)\bwant\s+to\s+die\b`),
	regexp.MustCompile(`(?i)\b(don'?t|do\s+not)\s+want\s+to\s+(live|be\s+alive|wake\s+up)\b`),
	regexp.MustCompile(`(?i)\bbetter\s+off\s+(dead|without\s+me)\b`),
	regexp.MustCompile(`(?i)\bno\s+(reason|point)\s+(to|in)\s+(live|living|going\s+on)\b`),
	regexp.MustCompile(`(?i)\bself[\s-]?harm\w*\b`),
	regexp.MustCompile(`(?i)\boverdose\b`),
}

// Result is the outcome of a screen.
type Result struct {
	Flagged bool
	Pattern string
}

// Filter is a regex-based self-harm classifier.
type Filter struct {
	patterns []*regexp.Regexp
}

// NewFilter creates a Filter with the built-in patterns.
func NewFilter() *Filter {
	return &Filter{patterns: riskPatterns}
}

// Check screens text. The matched pattern is returned for telemetry; the
// text itself is never logged.
func (f *Filter) Check(text string) Result {
	for _, p := range f.patterns {
		if p.MatchString(text) {
			return Result{Flagged: true, Pattern: p.String()}
		}
	}
	return Result{}
}
