package coach

import "fmt"

// IsLowInformation reports whether text is too sparse to coach on: very
// short, mostly stopwords, or short with no action verb.
func IsLowInformation(text string, t LowInfoTuning) bool {
	tokens := tokenize(text)
	n := len(tokens)
	if n <= t.MaxTokens {
		return true
	}

	stop, verb := 0, false
	for _, tok := range tokens {
		if stopwords[tok] {
			stop++
		}
		if actionVerbs[tok] {
			verb = true
		}
	}
	if n <= t.SparseMaxTokens && float64(stop)/float64(n) >= t.StopwordRatio {
		return true
	}
	return n <= t.VerbCheckMaxToks && !verb
}

var defaultTopics = map[Intent]string{
	IntentDecision: "the decision in front of you",
	IntentCareer:   "your work situation",
	IntentPurpose:  "what matters most to you",
	IntentHabit:    "the routine you want to build",
	IntentEmotion:  "what you're feeling",
	IntentGeneral:  "what's on your mind",
}

var clarifierTemplates = map[Intent][]string{
	IntentDecision: {
		"Before we weigh anything, what are the options you're choosing between around %s?",
		"What would a good outcome look like for %s, even roughly?",
	},
	IntentCareer: {
		"Can you tell me a bit more about %s and what's prompting this now?",
		"What part of %s feels most pressing this week?",
	},
	IntentPurpose: {
		"When you think about %s, what moment recently felt most meaningful?",
		"What draws you to %s right now?",
	},
	IntentHabit: {
		"What does a typical day look like around %s, and where does it slip?",
		"Which part of %s would you most like to change first?",
	},
	IntentEmotion: {
		"I'd like to understand more. What happened recently around %s?",
		"When %s comes up, what's the hardest part of it for you?",
	},
	IntentGeneral: {
		"I want to make this useful. Can you say more about %s and what you'd like to change?",
		"What's the most important part of %s for you right now?",
	},
}

// clarifierTopic picks the anchor for a clarifying question: the top
// keyword, or an intent-specific default when there is none.
func clarifierTopic(p Profile) string {
	return p.TopKeyword(defaultTopics[p.Intent])
}

// clarifyingQuestion builds a single seeded question about topic.
func clarifyingQuestion(p Profile, topic, seed string) string {
	templates := clarifierTemplates[p.Intent]
	if len(templates) == 0 {
		templates = clarifierTemplates[IntentGeneral]
	}
	return fmt.Sprintf(pick(seed+"|clarify", templates), topic)
}
