package text

import (
	"regexp"
	"strings"
)

// Default chunk lengths, in characters.
const (
	DefaultDesiredLength = 200
	DefaultMaxLength     = 300
)

var (
	paragraphRE   = regexp.MustCompile(`\n\n+`)
	spaceRunRE    = regexp.MustCompile(`\s+`)
	punctOnlyRE   = regexp.MustCompile(`^[\s.,;:!?]*$`)
	boundaryAfter = " \n"
)

// SplitAndRecombine breaks text into chunks of roughly desiredLen
// characters, never longer than maxLen. It prefers sentence boundaries (!, ?, newline,
// or a period followed by whitespace), does not split inside double
// quotes, and falls back to the last word break when a single sentence
// runs past maxLen. Chunks that are only whitespace or punctuation are
// dropped.
func SplitAndRecombine(text string, desiredLen, maxLen int) []string {
	if desiredLen <= 0 {
		desiredLen = DefaultDesiredLength
	}
	if maxLen < desiredLen {
		maxLen = desiredLen + desiredLen/2
	}

	text = paragraphRE.ReplaceAllString(text, "\n")
	text = spaceRunRE.ReplaceAllString(text, " ")
	text = quoteFolder.Replace(text)

	s := &splitter{text: []rune(text), pos: -1}
	end := len(s.text) - 1

	var (
		chunks   []string
		splitPos []int
	)
	commit := func() {
		chunks = append(chunks, string(s.current))
		s.current = s.current[:0]
		splitPos = splitPos[:0]
	}

	for s.pos < end {
		c := s.seek(1)

		switch {
		case len(s.current) >= maxLen:
			if len(splitPos) > 0 && len(s.current) > desiredLen/2 {
				// back up to the last sentence boundary
				s.seek(-(s.pos - splitPos[len(splitPos)-1]))
			} else {
				// no boundary yet: back up to a word break
				for !strings.ContainsRune("!?.\n ", c) && s.pos > 0 && len(s.current) > desiredLen {
					c = s.seek(-1)
				}
			}
			commit()

		case !s.inQuote && (strings.ContainsRune("!?\n", c) || (c == '.' && s.peekIn(1, boundaryAfter))):
			// swallow runs like "?!" or "..."
			for s.pos < len(s.text)-1 && len(s.current) < maxLen && s.peekIn(1, "!?.") {
				c = s.seek(1)
			}
			splitPos = append(splitPos, s.pos)
			if len(s.current) >= desiredLen {
				commit()
			}

		case s.inQuote && s.peek(1) == '"' && s.peekIn(2, boundaryAfter):
			// a closing quote followed by a break also counts as a boundary
			s.seek(min(2, end-s.pos))
			splitPos = append(splitPos, s.pos)
		}
	}
	chunks = append(chunks, string(s.current))

	out := chunks[:0]
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c == "" || punctOnlyRE.MatchString(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

type splitter struct {
	text    []rune
	pos     int
	current []rune
	inQuote bool
}

func (s *splitter) seek(delta int) rune {
	step := 1
	if delta < 0 {
		step, delta = -1, -delta
	}

	for range delta {
		if step < 0 {
			s.pos--
			s.current = s.current[:len(s.current)-1]
		} else {
			s.pos++
			s.current = append(s.current, s.text[s.pos])
		}
		if s.text[s.pos] == '"' {
			s.inQuote = !s.inQuote
		}
	}
	return s.text[s.pos]
}

// peek returns the rune delta positions away, or 0 outside the text.
func (s *splitter) peek(delta int) rune {
	p := s.pos + delta
	if p < 0 || p >= len(s.text) {
		return 0
	}
	return s.text[p]
}

// peekIn reports whether the rune delta positions away is in set. Positions
// past either end of the text count as a match.
func (s *splitter) peekIn(delta int, set string) bool {
	r := s.peek(delta)
	return r == 0 || strings.ContainsRune(set, r)
}
