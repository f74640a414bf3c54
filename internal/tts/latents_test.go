package tts

import (
	"math/rand"
	"path/filepath"
	"slices"
	"testing"

	"pgregory.net/rapid"
)

func TestSliceCount(t *testing.T) {
	tests := []struct {
		n, slices, maxChunk, want int
	}{
		{n: 1000, slices: 0, want: 1},
		{n: 1000, slices: 3, want: 3},
		{n: 1000, slices: 1, maxChunk: 400, want: 3},
		{n: 1000, slices: 4, maxChunk: 500, want: 2},
		{n: 300, slices: 5, maxChunk: 500, want: 5},
		{n: 0, slices: 2, maxChunk: 10, want: 2},
	}
	for _, tt := range tests {
		if got := SliceCount(tt.n, tt.slices, tt.maxChunk); got != tt.want {
			t.Errorf("SliceCount(%d, %d, %d) = %d, want %d", tt.n, tt.slices, tt.maxChunk, got, tt.want)
		}
	}
}

func TestSliceCountSmallestFit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxChunk := rapid.IntRange(1, 5000).Draw(rt, "max")
		n := rapid.IntRange(maxChunk+1, 100000).Draw(rt, "n")

		s := SliceCount(n, 1, maxChunk)
		if ceilDiv(n, s) > maxChunk {
			rt.Fatalf("S=%d leaves chunks of %d > %d", s, ceilDiv(n, s), maxChunk)
		}
		if s > 1 && ceilDiv(n, s-1) <= maxChunk {
			rt.Fatalf("S=%d is not the smallest fit", s)
		}
	})
}

func TestSplitChunks(t *testing.T) {
	samples := []float32{1, 2, 3, 4, 5, 6, 7}

	got := splitChunks(samples, 3)
	want := [][]float32{{1, 2, 3}, {4, 5, 6}, {7, 0, 0}}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i := range want {
		if !slices.Equal(got[i], want[i]) {
			t.Fatalf("chunk %d = %v, want %v", i, got[i], want[i])
		}
	}

	// 4 samples in 3 slices leave only two chunks of two.
	if got := splitChunks(samples[:4], 3); len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got := splitChunks(nil, 2); got != nil {
		t.Fatalf("empty input gave %v", got)
	}
}

func TestSplitChunksCoverInput(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		samples := rapid.SliceOfN(rapid.Float32Range(-1, 1), 1, 500).Draw(rt, "samples")
		n := rapid.IntRange(1, 20).Draw(rt, "slices")

		chunks := splitChunks(samples, n)
		if len(chunks) == 0 || len(chunks) > n {
			rt.Fatalf("%d chunks for %d slices", len(chunks), n)
		}

		var joined []float32
		for _, c := range chunks {
			if len(c) != len(chunks[0]) {
				rt.Fatalf("chunk lengths differ: %d vs %d", len(c), len(chunks[0]))
			}
			joined = append(joined, c...)
		}
		if !slices.Equal(joined[:len(samples)], samples) {
			rt.Fatal("chunks do not reproduce the input")
		}
		for _, v := range joined[len(samples):] {
			if v != 0 {
				rt.Fatal("padding is not silence")
			}
		}
	})
}

func TestConditioningWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	short := []float32{1, 2, 3}
	if got := conditioningWindow(short, 5, rng); !slices.Equal(got, []float32{1, 2, 3, 0, 0}) {
		t.Fatalf("short clip window = %v", got)
	}

	long := make([]float32, 100)
	for i := range long {
		long[i] = float32(i)
	}
	got := conditioningWindow(long, 10, rng)
	if len(got) != 10 {
		t.Fatalf("window length %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1]+1 {
			t.Fatalf("window is not contiguous: %v", got)
		}
	}
}

func TestSaveLoadLatents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latents.safetensors")
	in := &ConditioningLatents{
		Autoregressive: []float32{0.5, -1, 2},
		Diffusion:      []float32{3, 4},
		ClipMels:       []Mel{{Channels: 1, Frames: 1, Data: []float32{1}}},
	}

	if err := SaveLatents(path, in, "emma", 2, 22050, 24000); err != nil {
		t.Fatalf("SaveLatents: %v", err)
	}
	out, err := LoadLatents(path)
	if err != nil {
		t.Fatalf("LoadLatents: %v", err)
	}
	if !slices.Equal(out.Autoregressive, in.Autoregressive) || !slices.Equal(out.Diffusion, in.Diffusion) {
		t.Fatalf("loaded %+v, want %+v", out, in)
	}
	if out.ClipMels != nil {
		t.Fatal("clip mels should not be persisted")
	}
}
