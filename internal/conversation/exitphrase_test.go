package conversation

import "testing"

func TestExitMatcher_Match(t *testing.T) {
	t.Parallel()

	m := NewExitMatcher(nil, 0)

	tests := []struct {
		name       string
		transcript string
		want       bool
		phrase     string
	}{
		{name: "exact", transcript: "Goodbye.", want: true, phrase: "goodbye"},
		{name: "inside sentence", transcript: "Okay, thanks, bye!", want: true, phrase: "bye"},
		{name: "multi word", transcript: "Please stop conversation now", want: true, phrase: "stop conversation"},
		{name: "apostrophe", transcript: "That’s all for now.", want: true, phrase: "thats all for now"},
		{name: "fuzzy short", transcript: "Goodby", want: true, phrase: "goodbye"},
		{name: "word prefix is not a match", transcript: "Let me buy a byte of bread", want: false},
		{name: "ordinary question", transcript: "What is the weather like tomorrow?", want: false},
		{name: "empty", transcript: "  ...  ", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			phrase, ok := m.Match(tc.transcript)
			if ok != tc.want {
				t.Fatalf("Match(%q) = %v, want %v", tc.transcript, ok, tc.want)
			}
			if ok && phrase != tc.phrase {
				t.Errorf("phrase = %q, want %q", phrase, tc.phrase)
			}
		})
	}
}

func TestExitMatcher_CustomPhrases(t *testing.T) {
	t.Parallel()

	m := NewExitMatcher([]string{"", "sayonara"}, 0.99)
	if _, ok := m.Match("goodbye"); ok {
		t.Error("default phrase matched although custom phrases were given")
	}
	if _, ok := m.Match("Sayonara!"); !ok {
		t.Error("custom phrase did not match")
	}
}
