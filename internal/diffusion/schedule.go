// Package diffusion implements the spaced Gaussian diffusion sampler used to
// turn autoregressive latents into mel spectrograms.
package diffusion

import (
	"fmt"
	"math"
)

// TrainedSteps is the number of diffusion steps the denoiser was trained on.
const TrainedSteps = 4000

// LinearBetas returns the linear beta schedule scaled to n steps.
func LinearBetas(n int) []float64 {
	scale := 1000 / float64(n)
	start, end := scale*0.0001, scale*0.02

	betas := make([]float64, n)
	if n == 1 {
		betas[0] = start
		return betas
	}
	for i := range betas {
		betas[i] = start + (end-start)*float64(i)/float64(n-1)
	}
	return betas
}

// SpaceTimesteps picks count evenly strided steps out of total. Positions are
// rounded half to even.
func SpaceTimesteps(total, count int) ([]int, error) {
	if count < 1 {
		return nil, fmt.Errorf("space timesteps: count must be >= 1, got %d", count)
	}
	if count > total {
		return nil, fmt.Errorf("space timesteps: cannot take %d steps out of %d", count, total)
	}

	stride := 1.0
	if count > 1 {
		stride = float64(total-1) / float64(count-1)
	}

	out := make([]int, 0, count)
	cur := 0.0
	for range count {
		out = append(out, int(math.RoundToEven(cur)))
		cur += stride
	}
	return out, nil
}

// Schedule holds the per-step coefficients of a (possibly spaced) diffusion
// process. All slices are indexed by the spaced step.
type Schedule struct {
	Betas []float64
	// TimestepMap maps spaced steps back to trained steps for the denoiser.
	TimestepMap []int

	alphasCumprod     []float64
	alphasCumprodPrev []float64
	sqrtRecipAC       []float64
	sqrtRecipM1AC     []float64
	posteriorLogVar   []float64
	posteriorCoef1    []float64
	posteriorCoef2    []float64
}

// NewSchedule builds the schedule for steps spaced over TrainedSteps.
func NewSchedule(steps int) (*Schedule, error) {
	use, err := SpaceTimesteps(TrainedSteps, steps)
	if err != nil {
		return nil, err
	}

	base := LinearBetas(TrainedSteps)
	keep := make(map[int]bool, len(use))
	for _, t := range use {
		keep[t] = true
	}

	var (
		betas  []float64
		tmap   []int
		last   = 1.0
		cumulo = 1.0
	)
	for i, b := range base {
		cumulo *= 1 - b
		if keep[i] {
			betas = append(betas, 1-cumulo/last)
			last = cumulo
			tmap = append(tmap, i)
		}
	}

	s := newSchedule(betas)
	s.TimestepMap = tmap
	return s, nil
}

func newSchedule(betas []float64) *Schedule {
	n := len(betas)
	s := &Schedule{
		Betas:             betas,
		alphasCumprod:     make([]float64, n),
		alphasCumprodPrev: make([]float64, n),
		sqrtRecipAC:       make([]float64, n),
		sqrtRecipM1AC:     make([]float64, n),
		posteriorLogVar:   make([]float64, n),
		posteriorCoef1:    make([]float64, n),
		posteriorCoef2:    make([]float64, n),
	}

	ac := 1.0
	for i, b := range betas {
		s.alphasCumprodPrev[i] = ac
		ac *= 1 - b
		s.alphasCumprod[i] = ac
	}

	variance := make([]float64, n)
	for i, b := range betas {
		acT, acPrev := s.alphasCumprod[i], s.alphasCumprodPrev[i]
		s.sqrtRecipAC[i] = math.Sqrt(1 / acT)
		s.sqrtRecipM1AC[i] = math.Sqrt(1/acT - 1)
		variance[i] = b * (1 - acPrev) / (1 - acT)
		s.posteriorCoef1[i] = b * math.Sqrt(acPrev) / (1 - acT)
		s.posteriorCoef2[i] = (1 - acPrev) * math.Sqrt(1-b) / (1 - acT)
	}

	// The posterior variance is 0 at the first step; clip its log to step 1.
	for i := range variance {
		v := variance[i]
		if i == 0 && n > 1 {
			v = variance[1]
		}
		s.posteriorLogVar[i] = math.Log(v)
	}

	return s
}

// Steps returns the number of spaced steps.
func (s *Schedule) Steps() int {
	return len(s.Betas)
}

// AlphasCumprod returns the cumulative alpha product at spaced step t.
func (s *Schedule) AlphasCumprod(t int) float64 {
	return s.alphasCumprod[t]
}
