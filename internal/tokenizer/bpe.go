package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	hf "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// SpaceToken replaces every space before BPE encoding.
const SpaceToken = "[SPACE]"

// VoiceBPE is a byte-pair-encoding tokenizer loaded from a HuggingFace
// tokenizer.json. Text is cleaned with EnglishCleaners and spaces become
// the [SPACE] token.
type VoiceBPE struct {
	mu sync.Mutex
	tk *hf.Tokenizer
}

// NewVoiceBPEFromFile loads a tokenizer.json from disk.
func NewVoiceBPEFromFile(path string) (*VoiceBPE, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", path, err)
	}
	if tk.GetVocabSize(false) == 0 {
		return nil, fmt.Errorf("load tokenizer %q: %w", path, errors.New("vocabulary is empty"))
	}
	if _, ok := tk.TokenToId(SpaceToken); !ok {
		return nil, fmt.Errorf("load tokenizer %q: no %s token", path, SpaceToken)
	}

	return &VoiceBPE{tk: tk}, nil
}

// Encode cleans text and returns its BPE token IDs.
func (t *VoiceBPE) Encode(text string) ([]int64, error) {
	cleaned := EnglishCleaners(text)
	if cleaned == "" {
		return []int64{}, nil
	}
	cleaned = strings.ReplaceAll(cleaned, " ", SpaceToken)

	t.mu.Lock()
	enc, err := t.tk.EncodeSingle(cleaned, false)
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("bpe encode: %w", err)
	}

	ids := make([]int64, len(enc.Ids))
	for i, id := range enc.Ids {
		ids[i] = int64(id)
	}
	return ids, nil
}

// VocabSize returns the number of tokens including added ones.
func (t *VoiceBPE) VocabSize() int {
	return t.tk.GetVocabSize(true)
}
