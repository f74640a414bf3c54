package tokenizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRE = regexp.MustCompile(`\s+`)

	abbreviations = []struct {
		re   *regexp.Regexp
		full string
	}{
		{regexp.MustCompile(`\bmrs\.`), "misess"},
		{regexp.MustCompile(`\bmr\.`), "mister"},
		{regexp.MustCompile(`\bdr\.`), "doctor"},
		{regexp.MustCompile(`\bst\.`), "saint"},
		{regexp.MustCompile(`\bco\.`), "company"},
		{regexp.MustCompile(`\bjr\.`), "junior"},
		{regexp.MustCompile(`\bmaj\.`), "major"},
		{regexp.MustCompile(`\bgen\.`), "general"},
		{regexp.MustCompile(`\bdrs\.`), "doctors"},
		{regexp.MustCompile(`\brev\.`), "reverend"},
		{regexp.MustCompile(`\blt\.`), "lieutenant"},
		{regexp.MustCompile(`\bhon\.`), "honorable"},
		{regexp.MustCompile(`\bsgt\.`), "sergeant"},
		{regexp.MustCompile(`\bcapt\.`), "captain"},
		{regexp.MustCompile(`\besq\.`), "esquire"},
		{regexp.MustCompile(`\bltd\.`), "limited"},
		{regexp.MustCompile(`\bcol\.`), "colonel"},
		{regexp.MustCompile(`\bft\.`), "fort"},
	}
)

// EnglishCleaners folds text to ASCII, lowercases it, spells out numbers,
// expands common abbreviations, collapses whitespace and drops double quotes.
func EnglishCleaners(text string) string {
	text = ToASCII(text)
	text = strings.ToLower(text)
	text = ExpandNumbers(text)
	for _, a := range abbreviations {
		text = a.re.ReplaceAllString(text, a.full)
	}
	text = whitespaceRE.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, `"`, "")
	return text
}

// ToASCII strips diacritics and drops whatever still is not ASCII.
func ToASCII(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch r {
		case '\u2018', '\u2019':
			b.WriteByte('\'')
		case '\u201c', '\u201d':
			b.WriteByte('"')
		case '\u2013', '\u2014':
			b.WriteByte('-')
		default:
			if r < unicode.MaxASCII {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
