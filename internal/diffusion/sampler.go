package diffusion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Sampler names accepted by Options.Sampler.
const (
	SamplerP    = "p"
	SamplerDDIM = "ddim"
)

// Denoiser predicts noise for x at a trained timestep. x is a [C, L] matrix
// flattened row-major; the result is [2C, L] holding the epsilon prediction
// followed by the learned variance values.
type Denoiser interface {
	Denoise(ctx context.Context, x []float32, channels, length, timestep int, conditioningFree bool) ([]float32, error)
}

// Options configures one sampling loop.
type Options struct {
	Channels int
	Length   int
	// Temperature scales the initial Gaussian noise.
	Temperature float64
	Sampler     string
	// ConditioningFree blends each prediction with an unconditioned one:
	// out = cond*(k+1) - uncond*k.
	ConditioningFree bool
	ConditioningFreeK float64
	// Ramp scales k down linearly to 0 over the spaced steps.
	Ramp bool
	// Interrupt is polled before every step; a non-nil error aborts the loop.
	Interrupt func() error
}

// NormalizeSampler lowercases and validates a sampler name.
func NormalizeSampler(raw string) (string, error) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "", SamplerP:
		return SamplerP, nil
	case SamplerDDIM:
		return SamplerDDIM, nil
	default:
		return "", fmt.Errorf("invalid sampler %q (expected p|ddim)", raw)
	}
}

// Sample runs the reverse process from noise and returns the [C, L] result in
// the model's normalized range.
func (s *Schedule) Sample(ctx context.Context, d Denoiser, opts Options, rng *rand.Rand) ([]float32, error) {
	sampler, err := NormalizeSampler(opts.Sampler)
	if err != nil {
		return nil, err
	}
	if opts.Channels < 1 || opts.Length < 1 {
		return nil, fmt.Errorf("diffusion: invalid output shape [%d, %d]", opts.Channels, opts.Length)
	}

	size := opts.Channels * opts.Length
	x := make([]float64, size)
	for i := range x {
		x[i] = rng.NormFloat64() * opts.Temperature
	}

	start := time.Now()
	n := s.Steps()
	for i := n - 1; i >= 0; i-- {
		if opts.Interrupt != nil {
			if err := opts.Interrupt(); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logVar, xStart, err := s.predict(ctx, d, x, i, opts)
		if err != nil {
			return nil, fmt.Errorf("diffusion step %d: %w", i, err)
		}

		switch sampler {
		case SamplerDDIM:
			s.ddimStep(x, xStart, i)
		default:
			s.pStep(x, xStart, logVar, i, rng)
		}
	}

	slog.Debug("diffusion done", "steps", n, "sampler", sampler, "ms", time.Since(start).Milliseconds())

	out := make([]float32, size)
	for i, v := range x {
		out[i] = float32(v)
	}
	return out, nil
}

// predict runs the denoiser (twice when conditioning-free) and returns the
// per-element log variance and the clipped x0 estimate.
func (s *Schedule) predict(ctx context.Context, d Denoiser, x []float64, t int, opts Options) (logVar, xStart []float64, err error) {
	xf := make([]float32, len(x))
	for i, v := range x {
		xf[i] = float32(v)
	}

	trained := t
	if t < len(s.TimestepMap) {
		trained = s.TimestepMap[t]
	}

	size := len(x)
	cond, err := d.Denoise(ctx, xf, opts.Channels, opts.Length, trained, false)
	if err != nil {
		return nil, nil, err
	}
	if len(cond) != 2*size {
		return nil, nil, fmt.Errorf("denoiser returned %d values, want %d", len(cond), 2*size)
	}

	eps := make([]float64, size)
	for i := range eps {
		eps[i] = float64(cond[i])
	}

	if opts.ConditioningFree {
		uncond, err := d.Denoise(ctx, xf, opts.Channels, opts.Length, trained, true)
		if err != nil {
			return nil, nil, err
		}
		if len(uncond) != 2*size {
			return nil, nil, fmt.Errorf("denoiser returned %d values, want %d", len(uncond), 2*size)
		}

		k := opts.ConditioningFreeK
		if opts.Ramp {
			k *= 1 - float64(t)/float64(s.Steps())
		}
		blendGuidance(eps, uncond[:size], k)
	}

	minLog, maxLog := s.posteriorLogVar[t], math.Log(s.Betas[t])
	logVar = make([]float64, size)
	xStart = make([]float64, size)
	for i := range x {
		frac := (float64(cond[size+i]) + 1) / 2
		logVar[i] = frac*maxLog + (1-frac)*minLog

		x0 := s.sqrtRecipAC[t]*x[i] - s.sqrtRecipM1AC[t]*eps[i]
		xStart[i] = math.Max(-1, math.Min(1, x0))
	}

	return logVar, xStart, nil
}

// blendGuidance applies conditioning-free guidance in place:
// cond = cond*(k+1) - uncond*k.
func blendGuidance(cond []float64, uncond []float32, k float64) {
	for i := range cond {
		cond[i] = (1+k)*cond[i] - k*float64(uncond[i])
	}
}

func (s *Schedule) pStep(x, xStart, logVar []float64, t int, rng *rand.Rand) {
	c1, c2 := s.posteriorCoef1[t], s.posteriorCoef2[t]
	for i := range x {
		mean := c1*xStart[i] + c2*x[i]
		if t == 0 {
			x[i] = mean
			continue
		}
		x[i] = mean + math.Exp(0.5*logVar[i])*rng.NormFloat64()
	}
}

// ddimStep is the deterministic (eta = 0) DDIM update.
func (s *Schedule) ddimStep(x, xStart []float64, t int) {
	acPrev := s.alphasCumprodPrev[t]
	sqrtPrev, sqrtRest := math.Sqrt(acPrev), math.Sqrt(1-acPrev)
	for i := range x {
		// epsilon implied by the clipped x0
		e := (s.sqrtRecipAC[t]*x[i] - xStart[i]) / s.sqrtRecipM1AC[t]
		x[i] = xStart[i]*sqrtPrev + sqrtRest*e
	}
}
