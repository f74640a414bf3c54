package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// ErrEmptyPath is returned when a tokenizer is opened with an empty path.
var ErrEmptyPath = errors.New("tokenizer model path must not be empty")

// SentencePieceTokenizer encodes cleaned text with a UNIGRAM SentencePiece
// model. It runs the same EnglishCleaners pass as VoiceBPE so that both
// kinds see identical normalized input.
type SentencePieceTokenizer struct {
	proc gosp.Sentencepiece
}

// NewSentencePieceTokenizer loads a SentencePiece model from modelPath.
func NewSentencePieceTokenizer(modelPath string) (*SentencePieceTokenizer, error) {
	if modelPath == "" {
		return nil, ErrEmptyPath
	}

	proc, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, fmt.Errorf("load sentencepiece model %q: %w", modelPath, err)
	}

	return &SentencePieceTokenizer{proc: proc}, nil
}

// Encode cleans text and returns its SentencePiece ids.
func (t *SentencePieceTokenizer) Encode(text string) ([]int64, error) {
	cleaned := strings.TrimSpace(EnglishCleaners(text))
	if cleaned == "" {
		return []int64{}, nil
	}

	ids := t.proc.TokenizeToIDs(cleaned)

	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out, nil
}
