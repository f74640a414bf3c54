package onnx

import (
	"math"
	"math/rand"
	"sort"
)

// Token ids of the autoregressive mel vocabulary.
const (
	DefaultStartMelToken int64 = 8192
	DefaultStopMelToken  int64 = 8193
)

// SamplingConfig holds the knobs of the autoregressive sampling loop.
type SamplingConfig struct {
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	// LengthPenalty only affects beam scoring and has no effect when sampling.
	LengthPenalty float64
	MaxMelTokens  int
	StartToken    int64
	StopToken     int64
}

// ApplyRepetitionPenalty discourages tokens already present in seen: positive
// logits are divided by penalty, negative ones multiplied.
func ApplyRepetitionPenalty(logits []float32, seen []int64, penalty float64) {
	if penalty == 1 || penalty <= 0 {
		return
	}

	done := make(map[int64]bool, len(seen))
	for _, tok := range seen {
		if tok < 0 || int(tok) >= len(logits) || done[tok] {
			continue
		}
		done[tok] = true

		score := float64(logits[tok])
		if score < 0 {
			score *= penalty
		} else {
			score /= penalty
		}
		logits[tok] = float32(score)
	}
}

// ApplyTemperature scales logits by 1/temperature.
func ApplyTemperature(logits []float32, temperature float64) {
	if temperature <= 0 || temperature == 1 {
		return
	}
	for i := range logits {
		logits[i] = float32(float64(logits[i]) / temperature)
	}
}

// ApplyTopP masks the lowest-probability tokens whose cumulative mass stays
// within 1-topP. The most likely token always survives.
func ApplyTopP(logits []float32, topP float64) {
	if topP >= 1 || topP <= 0 || len(logits) == 0 {
		return
	}

	order := make([]int, len(logits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return logits[order[a]] < logits[order[b]] })

	sorted := make([]float32, len(order))
	for i, idx := range order {
		sorted[i] = logits[idx]
	}
	probs := Softmax(sorted)

	cum := 0.0
	negInf := float32(math.Inf(-1))
	for i := 0; i < len(order)-1; i++ {
		cum += probs[i]
		if cum > 1-topP {
			break
		}
		logits[order[i]] = negInf
	}
}

// Softmax returns normalized probabilities for logits. Entries at -Inf get
// probability zero.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxV := math.Inf(-1)
	for _, v := range logits {
		maxV = math.Max(maxV, float64(v))
	}
	if math.IsInf(maxV, -1) {
		return out
	}

	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// SampleToken applies the warpers in place and draws one token.
func SampleToken(logits []float32, seen []int64, cfg SamplingConfig, rng *rand.Rand) int64 {
	ApplyRepetitionPenalty(logits, seen, cfg.RepetitionPenalty)

	if cfg.Temperature <= 0 {
		return argmax(logits)
	}

	ApplyTemperature(logits, cfg.Temperature)
	ApplyTopP(logits, cfg.TopP)

	return Multinomial(Softmax(logits), rng)
}

// Multinomial draws an index from probs.
func Multinomial(probs []float64, rng *rand.Rand) int64 {
	u := rng.Float64()

	cum := 0.0
	last := -1
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		last = i
		cum += p
		if u < cum {
			return int64(i)
		}
	}

	// Rounding left u past the final bucket.
	if last < 0 {
		return 0
	}
	return int64(last)
}

func argmax(logits []float32) int64 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int64(best)
}
