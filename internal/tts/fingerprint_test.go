package tts

import (
	"math"
	"path/filepath"
	"testing"
)

func TestFingerprints(t *testing.T) {
	r := &Result{
		Waveforms:  [][]float32{{0.5, -1, 0.25}, {}},
		SampleRate: 24000,
		Seed:       42,
		Candidates: []ScoredCandidate{{Index: 3, Score: 0.9}, {Index: 1, Score: 0.2}},
	}

	fps := r.Fingerprints()
	if len(fps) != 2 {
		t.Fatalf("got %d fingerprints", len(fps))
	}
	first := fps[0]
	if first.Seed != 42 || first.Candidate != 3 || first.Score != 0.9 || first.SampleCount != 3 {
		t.Fatalf("fingerprint %+v", first)
	}
	if first.PeakAbs != 1 {
		t.Fatalf("peak = %v", first.PeakAbs)
	}
	if want := math.Sqrt((0.25 + 1 + 0.0625) / 3); math.Abs(first.RMS-want) > 1e-9 {
		t.Fatalf("rms = %v, want %v", first.RMS, want)
	}
	if fps[1].RMS != 0 || fps[1].PCMHashSHA256 == first.PCMHashSHA256 {
		t.Fatalf("empty waveform fingerprint %+v", fps[1])
	}
}

func TestSaveLoadFingerprints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fp.json")
	r := &Result{Waveforms: [][]float32{{0.1, 0.2}}, SampleRate: 24000, Seed: 7}
	fps := r.Fingerprints()

	if err := SaveFingerprints(path, fps); err != nil {
		t.Fatalf("SaveFingerprints: %v", err)
	}
	loaded, err := LoadFingerprints(path)
	if err != nil {
		t.Fatalf("LoadFingerprints: %v", err)
	}
	if !SamePCM(fps, loaded) {
		t.Fatalf("loaded %+v, want %+v", loaded, fps)
	}

	other := (&Result{Waveforms: [][]float32{{0.1, 0.3}}}).Fingerprints()
	if SamePCM(fps, other) {
		t.Fatal("different audio reported identical")
	}
	if SamePCM(fps, nil) {
		t.Fatal("length mismatch reported identical")
	}
}
