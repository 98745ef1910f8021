package conversation

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultExitPhrases are the phrases that end a conversation when no others
// are configured.
var DefaultExitPhrases = []string{
	"goodbye",
	"bye",
	"bye bye",
	"see you later",
	"stop conversation",
	"end conversation",
	"that's all for now",
}

const defaultExitThreshold = 0.92

// ExitMatcher decides whether a user transcript asks to end the conversation.
//
// A transcript matches when any run of its words equals a phrase after
// normalisation, or when the whole transcript is short and its Jaro-Winkler
// similarity to a phrase reaches the threshold. The fuzzy pass only covers
// short utterances so that a long sentence is not ended by a near miss.
//
// ExitMatcher is read-only after construction and safe for concurrent use.
type ExitMatcher struct {
	phrases   [][]string
	threshold float64
}

// NewExitMatcher returns a matcher for phrases. Empty phrases are ignored; a
// nil or empty list uses [DefaultExitPhrases]. threshold <= 0 selects the
// default of 0.92.
func NewExitMatcher(phrases []string, threshold float64) *ExitMatcher {
	if len(phrases) == 0 {
		phrases = DefaultExitPhrases
	}
	if threshold <= 0 {
		threshold = defaultExitThreshold
	}
	m := &ExitMatcher{threshold: threshold}
	for _, p := range phrases {
		if tokens := normalizeWords(p); len(tokens) > 0 {
			m.phrases = append(m.phrases, tokens)
		}
	}
	return m
}

// Match reports whether transcript matches an exit phrase and returns the
// phrase that matched.
func (m *ExitMatcher) Match(transcript string) (string, bool) {
	words := normalizeWords(transcript)
	if len(words) == 0 {
		return "", false
	}
	for _, phrase := range m.phrases {
		if containsRun(words, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	full := strings.Join(words, " ")
	for _, phrase := range m.phrases {
		if len(words) > len(phrase)+1 {
			continue
		}
		p := strings.Join(phrase, " ")
		if matchr.JaroWinkler(full, p, false) >= m.threshold {
			return p, true
		}
	}
	return "", false
}

// containsRun reports whether run appears as consecutive elements of words.
func containsRun(words, run []string) bool {
	for i := 0; i+len(run) <= len(words); i++ {
		match := true
		for j := range run {
			if words[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// normalizeWords lowercases s, drops apostrophes, treats every other
// non-alphanumeric rune as a separator and returns the resulting words.
func normalizeWords(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
