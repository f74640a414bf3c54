package audio

import "math"

// Hook is one post-processing stage over a block of samples.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks in order, feeding each the previous output.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// PostProcess describes the optional output DSP chain.
type PostProcess struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
}

// Hooks returns the configured chain for audio at sampleRate. DC blocking
// runs before normalization so the offset does not eat headroom.
func (p PostProcess) Hooks(sampleRate int) []Hook {
	var hooks []Hook
	if p.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return DCBlock(s, sampleRate) })
	}
	if p.Normalize {
		hooks = append(hooks, PeakNormalize)
	}
	if p.FadeInMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return FadeIn(s, sampleRate, p.FadeInMS) })
	}
	if p.FadeOutMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return FadeOut(s, sampleRate, p.FadeOutMS) })
	}
	return hooks
}

// PeakNormalize scales samples so the peak amplitude reaches 1.0.
// Silence is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, v := range samples {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}

	for i, v := range samples {
		samples[i] = v / peak
	}
	return samples
}

// dcCutoffHz is the corner frequency of the DC blocking filter.
const dcCutoffHz = 20.0

// DCBlock removes DC offset from samples using a one-pole high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 || sampleRate < 1 {
		return samples
	}

	r := math.Exp(-2 * math.Pi * dcCutoffHz / float64(sampleRate))

	// prime with the first sample so a constant offset starts at zero
	prevX := float64(samples[0])
	prevY := 0.0
	for i, v := range samples {
		x := float64(v)
		y := x - prevX + r*prevY
		samples[i] = float32(y)
		prevX, prevY = x, y
	}
	return samples
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeLength(len(samples), sampleRate, ms)
	for i := range n {
		samples[i] *= float32(i) / float32(n)
	}
	return samples
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeLength(len(samples), sampleRate, ms)
	last := len(samples) - 1
	for i := range n {
		samples[last-i] *= float32(i) / float32(n)
	}
	return samples
}

func fadeLength(total, sampleRate int, ms float64) int {
	n := int(ms / 1000 * float64(sampleRate))
	if n < 0 {
		return 0
	}
	return min(n, total)
}

// Clamp returns a copy of samples limited to [-1, 1].
func Clamp(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = max(-1, min(1, v))
	}
	return out
}

// PadOrTruncate returns samples cut or zero-padded to exactly n values.
func PadOrTruncate(samples []float32, n int) []float32 {
	out := make([]float32, max(n, 0))
	copy(out, samples)
	return out
}

// Concat joins clips end to end.
func Concat(clips ...[]float32) []float32 {
	total := 0
	for _, c := range clips {
		total += len(c)
	}
	out := make([]float32, 0, total)
	for _, c := range clips {
		out = append(out, c...)
	}
	return out
}
