package config

import (
	"fmt"
	"strings"
)

const (
	TokenizerBPE           = "bpe"
	TokenizerSentencePiece = "sentencepiece"

	RedactionMute = "mute"
	RedactionCut  = "cut"

	LogFormatJSON = "json"
	LogFormatText = "text"
)

func NormalizeTokenizer(raw string) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(raw))
	switch kind {
	case "", TokenizerBPE, "voice-bpe":
		return TokenizerBPE, nil
	case TokenizerSentencePiece, "sp":
		return TokenizerSentencePiece, nil
	default:
		return "", fmt.Errorf("invalid tokenizer %q (expected %s|%s)", raw, TokenizerBPE, TokenizerSentencePiece)
	}
}

func NormalizeRedactionMode(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	switch mode {
	case "", RedactionMute:
		return RedactionMute, nil
	case RedactionCut:
		return RedactionCut, nil
	default:
		return "", fmt.Errorf("invalid redaction mode %q (expected %s|%s)", raw, RedactionMute, RedactionCut)
	}
}

func NormalizeLogFormat(raw string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	switch format {
	case "", LogFormatJSON:
		return LogFormatJSON, nil
	case LogFormatText, "console", "pretty":
		return LogFormatText, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected %s|%s)", raw, LogFormatJSON, LogFormatText)
	}
}
