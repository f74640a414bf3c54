package audio

import (
	"fmt"
	"math"
)

// Kaiser-windowed sinc interpolation parameters.
const (
	resampleLowpassWidth = 16
	resampleRolloff      = 0.85
	resampleBeta         = 8.555504641634386
)

// Resample converts samples from one rate to another with band-limited
// Kaiser-windowed sinc interpolation. The output holds
// ceil(len(samples) * to / from) samples.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from < 1 || to < 1 {
		return nil, fmt.Errorf("resample: invalid rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return append([]float32(nil), samples...), nil
	}

	g := gcd(from, to)
	orig, next := from/g, to/g

	kernels, width := kaiserKernels(orig, next)
	kernelLen := 2*width + orig

	padded := make([]float64, width+len(samples)+width+orig)
	for i, v := range samples {
		padded[width+i] = float64(v)
	}

	frames := (len(padded)-kernelLen)/orig + 1
	target := int(math.Ceil(float64(next) * float64(len(samples)) / float64(orig)))

	out := make([]float32, 0, min(frames*next, target))
	for f := 0; f < frames && len(out) < target; f++ {
		window := padded[f*orig : f*orig+kernelLen]
		for _, kernel := range kernels {
			if len(out) == target {
				break
			}
			var acc float64
			for i, k := range kernel {
				acc += window[i] * k
			}
			out = append(out, float32(acc))
		}
	}
	return out, nil
}

// kaiserKernels builds one filter per output phase.
func kaiserKernels(orig, next int) ([][]float64, int) {
	baseFreq := float64(min(orig, next)) * resampleRolloff
	width := int(math.Ceil(resampleLowpassWidth * float64(orig) / baseFreq))
	scale := baseFreq / float64(orig)
	norm := besselI0(resampleBeta)

	size := 2*width + orig
	kernels := make([][]float64, next)
	for j := range kernels {
		kernel := make([]float64, size)
		for i := range kernel {
			idx := float64(i-width) / float64(orig)
			t := (-float64(j)/float64(next) + idx) * baseFreq
			t = math.Max(-resampleLowpassWidth, math.Min(resampleLowpassWidth, t))

			r := t / resampleLowpassWidth
			window := besselI0(resampleBeta*math.Sqrt(1-r*r)) / norm

			sinc := 1.0
			if t != 0 {
				sinc = math.Sin(math.Pi*t) / (math.Pi * t)
			}
			kernel[i] = sinc * window * scale
		}
		kernels[j] = kernel
	}
	return kernels, width
}

// besselI0 evaluates the zeroth-order modified Bessel function of the first kind.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	half := x / 2
	for k := 1; k < 500; k++ {
		f := half / float64(k)
		term *= f * f
		sum += term
		if term < sum*1e-17 {
			break
		}
	}
	return sum
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
