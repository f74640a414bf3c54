package audio

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func peak(samples []float32) float64 {
	var p float64
	for _, v := range samples {
		p = math.Max(p, math.Abs(float64(v)))
	}
	return p
}

func TestPeakNormalize(t *testing.T) {
	got := PeakNormalize([]float32{0.1, -0.25, 0.2})
	want := []float32{0.4, -1, 0.8}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Fatalf("PeakNormalize = %v, want %v", got, want)
		}
	}

	silence := []float32{0, 0, 0}
	if out := PeakNormalize(silence); peak(out) != 0 {
		t.Fatalf("silence changed: %v", out)
	}
}

func TestPeakNormalize_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.SliceOfN(rapid.Float32Range(-4, 4), 1, 64).Draw(t, "samples")
		before := peak(samples)
		out := PeakNormalize(append([]float32(nil), samples...))

		if before == 0 {
			if peak(out) != 0 {
				t.Fatalf("silence scaled: %v", out)
			}
			return
		}
		if p := peak(out); math.Abs(p-1) > 1e-5 {
			t.Fatalf("peak after normalize = %v", p)
		}
	})
}

func TestDCBlock_RemovesOffset(t *testing.T) {
	const rate = 24000
	samples := make([]float32, rate)
	for i := range samples {
		samples[i] = 0.5 + 0.1*float32(math.Sin(2*math.Pi*440*float64(i)/rate))
	}

	out := DCBlock(samples, rate)

	var mean float64
	tail := out[rate/2:]
	for _, v := range tail {
		mean += float64(v)
	}
	mean /= float64(len(tail))
	if math.Abs(mean) > 0.01 {
		t.Fatalf("residual DC %v", mean)
	}
	if out[0] != 0 {
		t.Fatalf("first sample %v, want 0", out[0])
	}
}

func TestDCBlock_DegenerateInput(t *testing.T) {
	if out := DCBlock(nil, 24000); len(out) != 0 {
		t.Fatalf("nil input: %v", out)
	}
	in := []float32{0.3, 0.3}
	if out := DCBlock(in, 0); out[0] != 0.3 || out[1] != 0.3 {
		t.Fatalf("zero rate modified samples: %v", out)
	}
}

func TestFades(t *testing.T) {
	ones := func(n int) []float32 {
		s := make([]float32, n)
		for i := range s {
			s[i] = 1
		}
		return s
	}

	// 1 ms at 4 kHz is four samples.
	in := FadeIn(ones(10), 4000, 1)
	if in[0] != 0 || in[2] != 0.5 || in[4] != 1 || in[9] != 1 {
		t.Fatalf("FadeIn = %v", in)
	}

	out := FadeOut(ones(10), 4000, 1)
	if out[9] != 0 || out[7] != 0.5 || out[5] != 1 || out[0] != 1 {
		t.Fatalf("FadeOut = %v", out)
	}

	short := FadeIn(ones(2), 4000, 100)
	if short[0] != 0 || short[1] != 0.5 {
		t.Fatalf("fade longer than clip = %v", short)
	}

	if neg := FadeOut(ones(3), 4000, -5); neg[2] != 1 {
		t.Fatalf("negative fade = %v", neg)
	}
}

func TestPostProcess_Hooks(t *testing.T) {
	if hooks := (PostProcess{}).Hooks(24000); len(hooks) != 0 {
		t.Fatalf("empty chain has %d hooks", len(hooks))
	}

	p := PostProcess{Normalize: true, DCBlock: true, FadeInMS: 1, FadeOutMS: 1}
	if hooks := p.Hooks(24000); len(hooks) != 4 {
		t.Fatalf("full chain has %d hooks", len(hooks))
	}

	out := ApplyHooks([]float32{0.1, 0.2, -0.4}, PostProcess{Normalize: true}.Hooks(24000)...)
	if peak(out) != 1 || out[2] != -1 {
		t.Fatalf("normalize chain = %v", out)
	}
}

func TestApplyHooks_Order(t *testing.T) {
	double := func(s []float32) []float32 {
		for i := range s {
			s[i] *= 2
		}
		return s
	}
	addOne := func(s []float32) []float32 {
		for i := range s {
			s[i]++
		}
		return s
	}

	if got := ApplyHooks([]float32{1}, double, addOne); got[0] != 3 {
		t.Fatalf("double then add = %v", got)
	}
	if got := ApplyHooks([]float32{1}, addOne, double); got[0] != 4 {
		t.Fatalf("add then double = %v", got)
	}
}

func TestClamp(t *testing.T) {
	in := []float32{-2, -0.5, 0, 0.5, 3}
	got := Clamp(in)
	want := []float32{-1, -0.5, 0, 0.5, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Clamp = %v", got)
		}
	}
	if in[0] != -2 {
		t.Fatal("Clamp modified its input")
	}
}

func TestPadOrTruncate(t *testing.T) {
	cases := []struct {
		n    int
		want []float32
	}{
		{5, []float32{1, 2, 3, 0, 0}},
		{2, []float32{1, 2}},
		{3, []float32{1, 2, 3}},
		{0, []float32{}},
		{-1, []float32{}},
	}
	for _, tc := range cases {
		got := PadOrTruncate([]float32{1, 2, 3}, tc.n)
		if len(got) != len(tc.want) {
			t.Fatalf("n=%d: len %d", tc.n, len(got))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("n=%d: %v", tc.n, got)
			}
		}
	}
}

func TestConcat(t *testing.T) {
	got := Concat([]float32{1}, nil, []float32{2, 3})
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("Concat = %v", got)
	}
	if got := Concat(); len(got) != 0 {
		t.Fatalf("empty Concat = %v", got)
	}
}
