package domain

import (
	"strings"
	"time"
)

// Bounds enforced on every SessionState write.
const (
	MaxSummaryWords  = 80
	MaxUserFacts     = 8
	MaxUserFactChars = 120
	MaxOpenLoops     = 6
	MaxOpenLoopChars = 130
)

// SessionState is the mutable per-session memory record.
type SessionState struct {
	SessionID        string    `json:"session_id"`
	RollingSummary   string    `json:"rolling_summary"`
	UserFacts        []string  `json:"user_facts"`
	OpenLoops        []string  `json:"open_loops"`
	PendingClarifier bool      `json:"pending_clarifier"`
	ClarifierTopic   string    `json:"clarifier_topic"`
	LastLens         string    `json:"last_lens"`
	LastModel        string    `json:"last_model"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SessionStatePatch is a partial update. Nil fields are left untouched.
type SessionStatePatch struct {
	RollingSummary   *string
	UserFacts        []string
	OpenLoops        []string
	PendingClarifier *bool
	ClarifierTopic   *string
	LastLens         *string
	LastModel        *string
}

// Empty reports whether the patch changes nothing.
func (p SessionStatePatch) Empty() bool {
	return p.RollingSummary == nil && p.UserFacts == nil && p.OpenLoops == nil &&
		p.PendingClarifier == nil && p.ClarifierTopic == nil &&
		p.LastLens == nil && p.LastModel == nil
}

// Apply merges the patch into s and re-applies the storage bounds.
func (s *SessionState) Apply(p SessionStatePatch) {
	if p.RollingSummary != nil {
		s.RollingSummary = *p.RollingSummary
	}
	if p.UserFacts != nil {
		s.UserFacts = p.UserFacts
	}
	if p.OpenLoops != nil {
		s.OpenLoops = p.OpenLoops
	}
	if p.PendingClarifier != nil {
		s.PendingClarifier = *p.PendingClarifier
	}
	if p.ClarifierTopic != nil {
		s.ClarifierTopic = *p.ClarifierTopic
	}
	if p.LastLens != nil {
		s.LastLens = *p.LastLens
	}
	if p.LastModel != nil {
		s.LastModel = *p.LastModel
	}
	s.Normalize()
}

// Normalize clamps summary, facts and loops to their documented bounds.
func (s *SessionState) Normalize() {
	s.RollingSummary = LimitWords(s.RollingSummary, MaxSummaryWords)
	s.UserFacts = BoundList(s.UserFacts, MaxUserFacts, MaxUserFactChars)
	s.OpenLoops = BoundList(s.OpenLoops, MaxOpenLoops, MaxOpenLoopChars)
	if !s.PendingClarifier {
		s.ClarifierTopic = ""
	}
}

// LimitWords keeps at most n whitespace-separated words.
func LimitWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}

// BoundList trims entries, drops empties and case-insensitive duplicates,
// truncates each entry to maxChars runes and keeps at most maxItems.
func BoundList(items []string, maxItems, maxChars int) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = TruncateRunes(strings.TrimSpace(item), maxChars)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if len(out) == maxItems {
			break
		}
	}
	return out
}

// TruncateRunes cuts s to at most n runes, preferring a word boundary.
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-")
}
