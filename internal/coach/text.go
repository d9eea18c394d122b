package coach

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	wordPattern    = regexp.MustCompile(`[\p{L}\p{N}]+(?:['-][\p{L}\p{N}]+)*`)
	keywordPattern = regexp.MustCompile(`^\p{L}[\p{L}'-]+$`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

var stopwords = toSet(
	"a", "about", "above", "after", "again", "against", "all", "also", "am", "an", "and", "any",
	"are", "as", "at", "be", "because", "been", "before", "being", "below", "between", "both",
	"but", "by", "can", "can't", "cannot", "could", "couldn't", "did", "didn't", "do", "does",
	"doesn't", "doing", "don't", "down", "during", "each", "even", "ever", "every", "few", "for",
	"from", "further", "get", "gets", "getting", "got", "had", "has", "have", "having", "he",
	"her", "here", "hers", "him", "his", "how", "i", "i'd", "i'll", "i'm", "i've", "if", "in",
	"into", "is", "isn't", "it", "it's", "its", "itself", "just", "kind", "know", "like", "lol",
	"maybe", "me", "might", "more", "most", "much", "must", "my", "myself", "no", "nor", "not",
	"now", "of", "off", "ok", "okay", "on", "once", "one", "only", "or", "other", "our", "out",
	"over", "own", "really", "same", "she", "should", "so", "some", "something", "still", "stuff",
	"such", "than", "that", "that's", "the", "their", "them", "then", "there", "these", "they",
	"thing", "things", "think", "this", "those", "through", "to", "too", "um", "uh", "under",
	"until", "up", "very", "was", "wasn't", "we", "were", "what", "what's", "when", "where",
	"which", "while", "who", "why", "will", "with", "would", "yeah", "yes", "you", "your",
	"idk", "hmm", "dunno", "sure", "well", "going", "gonna", "wanna", "bit", "lot", "way",
)

var actionVerbs = toSet(
	"want", "need", "decide", "choose", "start", "stop", "quit", "change", "build", "plan",
	"try", "finish", "learn", "improve", "create", "move", "leave", "apply", "write", "ask",
	"talk", "fix", "handle", "focus", "prepare", "practice", "commit", "launch", "switch",
	"hire", "negotiate", "exercise", "study", "save", "pay", "call", "schedule", "organize",
	"make", "work", "find", "take", "stay", "manage", "help", "get", "keep", "begin", "grow",
)

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// tokenize lowercases text and splits it into word tokens.
func tokenize(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	return wordPattern.FindAllString(text, -1)
}

// keywords ranks non-stopword tokens of at least two letters by frequency,
// breaking ties by first appearance, and returns at most limit of them.
func keywords(text string, limit int) []string {
	counts := make(map[string]int)
	first := make(map[string]int)
	var order []string
	for i, tok := range tokenize(text) {
		if utf8.RuneCountInString(tok) < 2 || stopwords[tok] || !keywordPattern.MatchString(tok) {
			continue
		}
		if counts[tok] == 0 {
			first[tok] = i
			order = append(order, tok)
		}
		counts[tok]++
	}
	sort.SliceStable(order, func(a, b int) bool {
		if counts[order[a]] != counts[order[b]] {
			return counts[order[a]] > counts[order[b]]
		}
		return first[order[a]] < first[order[b]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

// normalizeReply reduces a rendered reply to comparable text: lowercased,
// section labels and lead-ins removed, punctuation stripped, whitespace
// collapsed.
func normalizeReply(text string) string {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, lead := range allLeadIns() {
		text = strings.ReplaceAll(text, strings.ToLower(lead), " ")
	}
	for _, label := range sectionLabels {
		text = strings.ReplaceAll(text, label, " ")
	}
	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, text)
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

// contentWords returns the set of words of at least four letters.
func contentWords(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		if utf8.RuneCountInString(w) >= 4 {
			set[w] = true
		}
	}
	return set
}

func firstOr(items []string, fallback string) string {
	if len(items) > 0 && items[0] != "" {
		return items[0]
	}
	return fallback
}
