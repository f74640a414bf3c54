package text

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestSplitAndRecombine(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		desired int
		max     int
		want    []string
	}{
		{
			name:    "short text stays whole",
			text:    "Hello world.",
			desired: 200,
			max:     300,
			want:    []string{"Hello world."},
		},
		{
			name:    "splits once desired length is reached",
			text:    "First sentence. Second sentence. Third one.",
			desired: 10,
			max:     30,
			want:    []string{"First sentence.", "Second sentence.", "Third one."},
		},
		{
			name:    "groups short sentences up to desired length",
			text:    "A b. C d. E f. G h.",
			desired: 8,
			max:     20,
			want:    []string{"A b. C d.", "E f. G h."},
		},
		{
			name:    "does not split inside quotes",
			text:    `He said "Stop. Now." and left. Done.`,
			desired: 5,
			max:     100,
			want:    []string{`He said "Stop. Now." and left.`, "Done."},
		},
		{
			name:    "collapses whitespace and paragraphs",
			text:    "One.\n\n\nTwo   three.",
			desired: 2,
			max:     50,
			want:    []string{"One.", "Two three."},
		},
		{
			name:    "falls back to a word break past max",
			text:    "aaaa bbbb cccc dddd eeee",
			desired: 8,
			max:     12,
			want:    []string{"aaaa bbbb", "cccc dddd", "eeee"},
		},
		{
			name:    "drops punctuation-only chunks",
			text:    "Hi! ... !",
			desired: 1,
			max:     10,
			want:    []string{"Hi!"},
		},
		{
			name:    "empty input",
			text:    "",
			desired: 10,
			max:     20,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitAndRecombine(tt.text, tt.desired, tt.max)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitAndRecombine(%q) = %q, want %q", tt.text, got, tt.want)
			}

			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitAndRecombineDefaults(t *testing.T) {
	long := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)

	chunks := SplitAndRecombine(long, 0, 0)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > DefaultDesiredLength+DefaultDesiredLength/2 {
			t.Errorf("chunk[%d] has %d chars", i, len(c))
		}
	}
}

func TestProperty_SplitAndRecombineKeepsContent(t *testing.T) {
	letters := []rune("abcdefghij")

	rapid.Check(t, func(rt *rapid.T) {
		desired := rapid.IntRange(20, 80).Draw(rt, "desired")
		maxLen := desired + rapid.IntRange(20, 60).Draw(rt, "slack")

		var b strings.Builder
		sentences := rapid.IntRange(1, 20).Draw(rt, "sentences")
		for s := range sentences {
			if s > 0 {
				b.WriteByte(' ')
			}
			words := rapid.IntRange(1, 12).Draw(rt, "words")
			for w := range words {
				if w > 0 {
					b.WriteByte(' ')
				}
				n := rapid.IntRange(1, 8).Draw(rt, "wordLen")
				for range n {
					b.WriteRune(letters[rapid.IntRange(0, len(letters)-1).Draw(rt, "letter")])
				}
			}
			b.WriteByte('.')
		}
		text := b.String()

		chunks := SplitAndRecombine(text, desired, maxLen)
		for i, c := range chunks {
			if len(c) > maxLen {
				rt.Fatalf("chunk[%d] has %d chars, max %d: %q", i, len(c), maxLen, c)
			}
		}

		strip := func(s string) string { return strings.ReplaceAll(s, " ", "") }
		if got, want := strip(strings.Join(chunks, "")), strip(text); got != want {
			rt.Fatalf("content changed:\n got %q\nwant %q", got, want)
		}
	})
}
