package align

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode"
	"unicode/utf8"
)

// Vocab maps transcript characters to CTC output classes.
type Vocab struct {
	ids   map[rune]int64
	blank int64
	upper bool
}

// defaultVocab is the character set of the English wav2vec2 CTC heads.
var defaultVocab = map[string]int64{
	"<pad>": 0, "<s>": 1, "</s>": 2, "<unk>": 3, "|": 4,
	"E": 5, "T": 6, "A": 7, "O": 8, "N": 9, "I": 10, "H": 11, "S": 12,
	"R": 13, "D": 14, "L": 15, "U": 16, "M": 17, "W": 18, "C": 19, "F": 20,
	"G": 21, "Y": 22, "P": 23, "B": 24, "V": 25, "K": 26, "'": 27, "X": 28,
	"J": 29, "Q": 30, "Z": 31,
}

// DefaultVocab returns the built-in English character vocabulary.
func DefaultVocab() *Vocab {
	v, _ := newVocab(defaultVocab)
	return v
}

// LoadVocab reads a HuggingFace style vocab.json ({"token": id}).
func LoadVocab(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aligner vocab: %w", err)
	}

	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse aligner vocab %s: %w", path, err)
	}

	v, err := newVocab(m)
	if err != nil {
		return nil, fmt.Errorf("aligner vocab %s: %w", path, err)
	}
	return v, nil
}

func newVocab(m map[string]int64) (*Vocab, error) {
	blank, ok := m["<pad>"]
	if !ok {
		return nil, fmt.Errorf("missing <pad> blank token")
	}

	v := &Vocab{ids: make(map[rune]int64, len(m)), blank: blank}
	lower, upper := 0, 0
	for tok, id := range m {
		if utf8.RuneCountInString(tok) != 1 {
			continue
		}
		r, _ := utf8.DecodeRuneInString(tok)
		v.ids[r] = id
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsLower(r):
			lower++
		}
	}
	v.upper = upper > lower

	if len(v.ids) == 0 {
		return nil, fmt.Errorf("no single-character tokens")
	}
	return v, nil
}

// Blank returns the CTC blank class.
func (v *Vocab) Blank() int64 {
	return v.blank
}

// ID returns the class for r, or -1 when r has none. Spaces map to the word
// delimiter "|" when the vocabulary has no space token.
func (v *Vocab) ID(r rune) int64 {
	if r == ' ' {
		if id, ok := v.ids[' ']; ok {
			return id
		}
		if id, ok := v.ids['|']; ok {
			return id
		}
		return -1
	}

	if v.upper {
		r = unicode.ToUpper(r)
	} else {
		r = unicode.ToLower(r)
	}
	if id, ok := v.ids[r]; ok {
		return id
	}
	return -1
}
