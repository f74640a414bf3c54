package tts

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestBuiltinPresets(t *testing.T) {
	p := BuiltinPresets()

	want := map[string][2]int{
		PresetUltraFast:   {16, 30},
		PresetFast:        {96, 80},
		PresetStandard:    {256, 200},
		PresetHighQuality: {256, 400},
	}
	if got := p.Names(); !slices.Equal(got, []string{"fast", "high_quality", "standard", "ultra_fast"}) {
		t.Fatalf("Names = %v", got)
	}
	for name, w := range want {
		s, err := p.Resolve(name, Overrides{})
		if err != nil {
			t.Fatalf("Resolve(%s): %v", name, err)
		}
		if s.NumSamples != w[0] || s.DiffusionIterations != w[1] {
			t.Errorf("%s: samples %d iterations %d, want %v", name, s.NumSamples, s.DiffusionIterations, w)
		}
		if s.ConditioningFree != (name != PresetUltraFast) {
			t.Errorf("%s: cond free = %v", name, s.ConditioningFree)
		}
	}
}

func TestResolveOverridesWin(t *testing.T) {
	p := BuiltinPresets()
	iterations, k, sampler := 10, 3, "DDIM"

	s, err := p.Resolve("Standard", Overrides{DiffusionIterations: &iterations, K: &k, Sampler: &sampler})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.NumSamples != 256 || s.DiffusionIterations != 10 || s.K != 3 {
		t.Fatalf("resolved %+v", s)
	}
	if s.Sampler != "ddim" {
		t.Fatalf("sampler = %q, want normalized ddim", s.Sampler)
	}
}

func TestResolveEmptyNameKeepsBase(t *testing.T) {
	base := DefaultSettings()
	base.NumSamples = 7

	s, err := BuiltinPresets().ResolveFrom(base, "", Overrides{})
	if err != nil {
		t.Fatalf("ResolveFrom: %v", err)
	}
	if s.NumSamples != 7 {
		t.Fatalf("NumSamples = %d, want base value 7", s.NumSamples)
	}
}

func TestResolveRejects(t *testing.T) {
	p := BuiltinPresets()
	if _, err := p.Resolve("turbo", Overrides{}); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("unknown preset error = %v", err)
	}

	bad := 1.5
	if _, err := p.Resolve(PresetFast, Overrides{CVVPAmount: &bad}); err == nil {
		t.Fatal("expected cvvp range error")
	}
	sampler := "euler"
	if _, err := p.Resolve(PresetFast, Overrides{Sampler: &sampler}); err == nil {
		t.Fatal("expected sampler error")
	}
}

func TestLoadPresetsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	data := `presets:
  Narration:
    num_autoregressive_samples: 64
    diffusion_iterations: 120
    cond_free: false
  fast:
    num_autoregressive_samples: 48
    diffusion_iterations: 50
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}

	n, err := p.Lookup("narration")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if n.Name != "narration" || n.NumSamples != 64 || n.DiffusionIterations != 120 || n.ConditioningFree == nil || *n.ConditioningFree {
		t.Fatalf("narration = %+v", n)
	}

	f, _ := p.Lookup(PresetFast)
	if f.NumSamples != 48 {
		t.Fatalf("file preset did not replace built-in fast: %+v", f)
	}
	if _, err := p.Lookup(PresetHighQuality); err != nil {
		t.Fatalf("built-in lost: %v", err)
	}
}

func TestLoadPresetsInvalid(t *testing.T) {
	dir := t.TempDir()

	zero := filepath.Join(dir, "zero.yaml")
	if err := os.WriteFile(zero, []byte("presets:\n  bad:\n    num_autoregressive_samples: 0\n    diffusion_iterations: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPresets(zero); err == nil {
		t.Fatal("expected error for zero samples")
	}

	if _, err := LoadPresets(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	p, err := LoadPresets("")
	if err != nil || len(p.Names()) != 4 {
		t.Fatalf("empty path: %v, %v", p, err)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"k", func(s *Settings) { s.K = 0 }},
		{"samples", func(s *Settings) { s.NumSamples = 0 }},
		{"batch", func(s *Settings) { s.BatchSize = 0 }},
		{"top p", func(s *Settings) { s.TopP = 0 }},
		{"temperature", func(s *Settings) { s.Temperature = 0 }},
		{"iterations", func(s *Settings) { s.DiffusionIterations = 5000 }},
		{"breathing room", func(s *Settings) { s.BreathingRoom = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	s := DefaultSettings()
	s.Sampler = ""
	if err := s.Validate(); err != nil || s.Sampler != "p" {
		t.Fatalf("default sampler: %q, %v", s.Sampler, err)
	}
}
