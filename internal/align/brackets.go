// Package align maps characters of a transcript onto sample offsets of the
// audio that speaks it, and uses that mapping to silence or remove
// [bracketed] spans from synthesized speech.
package align

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnbalancedBrackets is returned for a "[" without a matching "]", a
// stray "]", or nested brackets.
var ErrUnbalancedBrackets = errors.New("unbalanced brackets")

// Segment is a run of transcript text. Redact marks text that was inside
// brackets.
type Segment struct {
	Text   string
	Redact bool
}

// ParseBrackets splits text into alternating spoken and redacted segments.
// The brackets themselves are dropped. Empty segments are omitted.
func ParseBrackets(text string) ([]Segment, error) {
	var (
		segs   []Segment
		cur    strings.Builder
		inside bool
	)

	flush := func(redact bool) {
		if cur.Len() > 0 {
			segs = append(segs, Segment{Text: cur.String(), Redact: redact})
			cur.Reset()
		}
	}

	for i, r := range text {
		switch r {
		case '[':
			if inside {
				return nil, fmt.Errorf("%w: nested '[' at byte %d", ErrUnbalancedBrackets, i)
			}
			flush(false)
			inside = true
		case ']':
			if !inside {
				return nil, fmt.Errorf("%w: ']' without '[' at byte %d", ErrUnbalancedBrackets, i)
			}
			flush(true)
			inside = false
		default:
			cur.WriteRune(r)
		}
	}

	if inside {
		return nil, fmt.Errorf("%w: '[' is never closed", ErrUnbalancedBrackets)
	}
	flush(false)

	return segs, nil
}

// HasRedactions reports whether text contains a bracketed span.
func HasRedactions(text string) bool {
	return strings.ContainsRune(text, '[')
}

// BareText joins the segments without brackets.
func BareText(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return b.String()
}
