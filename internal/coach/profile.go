package coach

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/guest-coach/internal/domain"
)

// Intent is the dominant theme of the conversation.
type Intent string

const (
	IntentDecision Intent = "decision"
	IntentCareer   Intent = "career"
	IntentPurpose  Intent = "purpose"
	IntentHabit    Intent = "habit"
	IntentEmotion  Intent = "emotion"
	IntentGeneral  Intent = "general"
)

// Tone is the emotional register of recent user turns.
type Tone string

const (
	ToneStressed  Tone = "stressed"
	ToneUncertain Tone = "uncertain"
	ToneMotivated Tone = "motivated"
	ToneNeutral   Tone = "neutral"
)

// Stage is how far into the conversation the guest is.
type Stage string

const (
	StageOpening        Stage = "opening"
	StageExploring      Stage = "exploring"
	StagePlanning       Stage = "planning"
	StageAccountability Stage = "accountability"
)

const (
	profileUserTurns      = 8
	profileAssistantTurns = 4
	profileKeywords       = 8
)

type classifier[T any] struct {
	label   T
	pattern *regexp.Regexp
}

// Evaluated in order; the first match wins.
var intentClassifiers = []classifier[Intent]{
	{IntentDecision, regexp.MustCompile(`(?i)\b(decid\w*|decision\w*|choos\w*|choice\w*|options?|torn between|should i|trade-?offs?|pros and cons|either)\b`)},
	{IntentCareer, regexp.MustCompile(`(?i)\b(job|jobs|career\w*|boss|manager|promotion|salary|interview\w*|company|coworkers?|colleagues?|resume|hiring|offer)\b`)},
	{IntentPurpose, regexp.MustCompile(`(?i)\b(purpose|meaning\w*|values?|mission|calling|direction|fulfil\w*|legacy|why i)\b`)},
	{IntentHabit, regexp.MustCompile(`(?i)\b(habits?|routines?|consisten\w*|procrastinat\w*|disciplin\w*|daily|every day|workouts?|exercis\w*|sleep\w*|diet)\b`)},
	{IntentEmotion, regexp.MustCompile(`(?i)\b(feel\w*|anxious|anxiety|sad|angry|upset|lonely|afraid|scared|hurt|overwhelm\w*|frustrat\w*|guilt\w*)\b`)},
}

var toneClassifiers = []classifier[Tone]{
	{ToneStressed, regexp.MustCompile(`(?i)\b(stress\w*|overwhelm\w*|anxious|anxiety|panic\w*|burn(ed|t)?[ -]?out|exhausted|pressure|too much|drowning)\b`)},
	{ToneUncertain, regexp.MustCompile(`(?i)\b(unsure|not sure|confus\w*|don'?t know|idk|uncertain|can'?t decide|stuck|lost|torn|hesitant)\b`)},
	{ToneMotivated, regexp.MustCompile(`(?i)\b(excited|motivated|ready|determined|eager|pumped|committed|let'?s go|can'?t wait)\b`)},
}

// Profile is a per-turn semantic summary of the conversation. It is derived
// from persisted turns and never stored.
type Profile struct {
	Intent                  Intent
	Tone                    Tone
	Stage                   Stage
	Keywords                []string
	RecentUserMessages      []string
	RecentAssistantMessages []string
	AggregateChars          int
	UserTurnCount           int
}

// TopKeyword returns the highest-ranked keyword or fallback.
func (p Profile) TopKeyword(fallback string) string {
	return firstOr(p.Keywords, fallback)
}

// BuildProfile derives a Profile from the session history and the current
// input. It is pure: identical inputs always produce identical output.
func BuildProfile(history []domain.ConversationTurn, input string) Profile {
	users := domain.RecentTurns(history, profileUserTurns, func(t domain.ConversationTurn) bool {
		return t.Role == domain.RoleUser
	})
	assistants := domain.RecentTurns(history, profileAssistantTurns, isCoachReply)

	p := Profile{
		RecentUserMessages:      contents(users),
		RecentAssistantMessages: contents(assistants),
		UserTurnCount:           len(domain.UserTurns(history)) + 1,
	}

	corpus := strings.Join(append(append([]string{}, p.RecentUserMessages...), input), "\n")
	p.Intent = classify(intentClassifiers, corpus, IntentGeneral)
	p.Tone = classify(toneClassifiers, corpus, ToneNeutral)
	p.Stage = stageFor(p.UserTurnCount)
	p.Keywords = keywords(corpus, profileKeywords)

	p.AggregateChars = utf8.RuneCountInString(input)
	for _, m := range p.RecentUserMessages {
		p.AggregateChars += utf8.RuneCountInString(m)
	}
	for _, m := range p.RecentAssistantMessages {
		p.AggregateChars += utf8.RuneCountInString(m)
	}
	return p
}

func classify[T any](classifiers []classifier[T], text string, fallback T) T {
	for _, c := range classifiers {
		if c.pattern.MatchString(text) {
			return c.label
		}
	}
	return fallback
}

func stageFor(userTurns int) Stage {
	switch {
	case userTurns <= 2:
		return StageOpening
	case userTurns <= 6:
		return StageExploring
	case userTurns <= 12:
		return StagePlanning
	default:
		return StageAccountability
	}
}

func isCoachReply(t domain.ConversationTurn) bool {
	return t.Role == domain.RoleAssistant && t.Mode == domain.ModeCoach
}

func contents(turns []domain.ConversationTurn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}
