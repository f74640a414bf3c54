// Package tokenizer turns input text into the token ids the autoregressive
// and CLVP models were trained on. The default implementation is the voice
// BPE vocabulary (tokenizer.json) behind English text cleaners; a
// SentencePiece model can be used instead.
package tokenizer

import (
	"fmt"
	"strings"
)

// Tokenizer kinds accepted by Open.
const (
	KindBPE           = "bpe"
	KindSentencePiece = "sentencepiece"
)

// Tokenizer encodes text into token IDs.
type Tokenizer interface {
	// Encode tokenizes text and returns token IDs.
	Encode(text string) ([]int64, error)
}

// Open loads the tokenizer of the given kind from path.
func Open(kind, path string) (Tokenizer, error) {
	switch strings.ToLower(kind) {
	case "", KindBPE:
		return NewVoiceBPEFromFile(path)
	case KindSentencePiece:
		return NewSentencePieceTokenizer(path)
	default:
		return nil, fmt.Errorf("unknown tokenizer kind %q", kind)
	}
}
