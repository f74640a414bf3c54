// Package text prepares user input for synthesis: whitespace and quote
// normalization, and splitting long passages into chunks the
// autoregressive model can handle.
package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

var quoteFolder = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	"…", "...",
)

// Normalize prepares raw input text for a single synthesis call. The
// models read one line of text, so line breaks and whitespace runs collapse
// to single spaces. Typographic quotes and ellipses fold to ASCII and control
// characters are dropped. Empty or whitespace-only input is rejected.
func Normalize(s string) (string, error) {
	s = quoteFolder.Replace(s)

	var b strings.Builder
	b.Grow(len(s))

	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r):
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "", ErrEmptyText
	}
	return b.String(), nil
}
