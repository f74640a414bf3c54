package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func equalInt64(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// spModelPath returns a SentencePiece model named by TORTOISE_SP_MODEL or
// found under a models/ directory above the package, skipping if absent.
func spModelPath(t *testing.T) string {
	t.Helper()

	if p := os.Getenv("TORTOISE_SP_MODEL"); p != "" {
		return p
	}

	dir, err := filepath.Abs(".")
	if err != nil {
		t.Fatalf("abs path: %v", err)
	}
	for {
		candidate := filepath.Join(dir, "models", "tokenizer.model")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Skip("no sentencepiece model; set TORTOISE_SP_MODEL")
	return ""
}

func TestOpen_Kinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, []byte(testVocab), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, kind := range []string{"", "bpe", "BPE"} {
		tok, err := Open(kind, path)
		if err != nil {
			t.Fatalf("Open(%q): %v", kind, err)
		}
		if _, ok := tok.(*VoiceBPE); !ok {
			t.Fatalf("Open(%q) = %T", kind, tok)
		}
	}

	if _, err := Open("wordpiece", path); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestOpen_SentencePieceErrors(t *testing.T) {
	if _, err := Open(KindSentencePiece, ""); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("empty path: got %v", err)
	}
	if _, err := Open(KindSentencePiece, "/nonexistent/tokenizer.model"); err == nil {
		t.Fatal("expected error for missing model file")
	}
}

func TestSentencePiece_Encode(t *testing.T) {
	tok, err := NewSentencePieceTokenizer(spModelPath(t))
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizer: %v", err)
	}

	ids, err := tok.Encode("Hello there, 3 cats.")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("expected tokens")
	}
	for i, id := range ids {
		if id < 0 {
			t.Errorf("token %d = %d", i, id)
		}
	}

	// Cleaning makes case and spelled numbers irrelevant.
	again, err := tok.Encode("hello there, three cats.")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !equalInt64(ids, again) {
		t.Errorf("cleaned encodings differ: %v vs %v", ids, again)
	}

	empty, err := tok.Encode("   ")
	if err != nil || len(empty) != 0 {
		t.Fatalf("blank text: %v %v", empty, err)
	}
}
