package onnx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeBundle writes empty graph files and a manifest into a temp dir and
// returns the manifest path.
func writeBundle(t *testing.T, manifest string, files ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("fake"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestNewSessionManagerLoadsManifest(t *testing.T) {
	manifest := `{
  "graphs": [
    {
      "name": "autoregressive_conditioning",
      "filename": "autoregressive_conditioning.onnx",
      "sha256": "ABC123",
      "inputs": [{"name":"mels","dtype":"float","shape":[1,"clips",80,"frames"]}],
      "outputs": [{"name":"latent","dtype":"float","shape":[1,1024]}]
    },
    {
      "name": "vocoder",
      "filename": "vocoder.onnx",
      "inputs": [{"name":"mel","dtype":"float","shape":[1,100,"frames"]}],
      "outputs": [{"name":"waveform","dtype":"float","shape":[1,1,"samples"]}]
    }
  ]
}`
	path := writeBundle(t, manifest, "autoregressive_conditioning.onnx", "vocoder.onnx")

	sm, err := NewSessionManager(path)
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}

	all := sm.Sessions()
	if len(all) != 2 || all[0].Name != "autoregressive_conditioning" || all[1].Name != "vocoder" {
		t.Fatalf("sessions not in manifest order: %+v", all)
	}

	s, ok := sm.Session("autoregressive_conditioning")
	if !ok {
		t.Fatal("expected autoregressive_conditioning session")
	}
	if s.Path != filepath.Join(filepath.Dir(path), "autoregressive_conditioning.onnx") {
		t.Fatalf("unexpected session path: %s", s.Path)
	}
	if s.SHA256 != "abc123" {
		t.Fatalf("pinned digest = %q, want lowercased", s.SHA256)
	}
	if len(s.Inputs) != 1 || s.Inputs[0].Name != "mels" || s.Inputs[0].Shape[1] != "clips" {
		t.Fatalf("unexpected inputs: %+v", s.Inputs)
	}

	// Returned sessions are copies.
	s.Inputs[0].Name = "changed"
	again, _ := sm.Session("autoregressive_conditioning")
	if again.Inputs[0].Name != "mels" {
		t.Fatal("Session exposed internal state")
	}

	if _, ok := sm.Session("clvp"); ok {
		t.Fatal("unexpected clvp session")
	}
}

func TestNewSessionManagerAbsoluteFilename(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "elsewhere.onnx")
	if err := os.WriteFile(abs, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeBundle(t, `{"graphs":[{"name":"clvp","filename":"`+filepath.ToSlash(abs)+`"}]}`)

	sm, err := NewSessionManager(path)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	if s, _ := sm.Session("clvp"); s.Path != filepath.Clean(abs) {
		t.Fatalf("path = %s", s.Path)
	}
}

func TestSessionManagerMissing(t *testing.T) {
	path := writeBundle(t, `{"graphs":[{"name":"vocoder","filename":"vocoder.onnx","inputs":[],"outputs":[]}]}`, "vocoder.onnx")

	sm, err := NewSessionManager(path)
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}

	missing := sm.Missing("vocoder", "clvp", "cvvp")
	if len(missing) != 2 || missing[0] != "clvp" || missing[1] != "cvvp" {
		t.Fatalf("unexpected missing graphs: %v", missing)
	}
	if got := sm.Missing(); got != nil {
		t.Fatalf("Missing() = %v", got)
	}
}

func TestReadManifestErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		files    []string
		want     string
	}{
		{"invalid json", `{`, nil, "decode"},
		{"no graphs", `{"graphs":[]}`, nil, "no graphs"},
		{"empty name", `{"graphs":[{"filename":"a.onnx"}]}`, nil, "empty name"},
		{"empty filename", `{"graphs":[{"name":"a"}]}`, nil, "empty filename"},
		{"duplicate", `{"graphs":[{"name":"a","filename":"a.onnx"},{"name":"a","filename":"a.onnx"}]}`, []string{"a.onnx"}, "duplicate"},
		{"missing file", `{"graphs":[{"name":"a","filename":"a.onnx"}]}`, nil, "graph file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeBundle(t, tt.manifest, tt.files...)
			_, err := NewSessionManager(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := ReadManifest(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
