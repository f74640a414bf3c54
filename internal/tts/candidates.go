package tts

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/example/go-tortoise-tts/internal/onnx"
)

// CandidateBatch is one sampling pass worth of mel code sequences, all of
// the same length.
type CandidateBatch struct {
	Codes [][]int64
	Stop  int64
	Calm  int64
}

// generate samples settings.NumSamples candidates in batches. Fewer samples
// than one batch produce a single candidate.
func (o *Orchestrator) generate(ctx context.Context, conditioning []float32, text []int64, s Settings, rng *rand.Rand) ([]CandidateBatch, error) {
	total, batch := s.NumSamples, s.BatchSize
	if total < batch {
		total, batch = 1, 1
	}

	cfg := onnx.SamplingConfig{
		Temperature:       s.Temperature,
		TopP:              s.TopP,
		RepetitionPenalty: s.RepetitionPenalty,
		LengthPenalty:     s.LengthPenalty,
		MaxMelTokens:      s.MaxMelTokens,
		StartToken:        o.startToken(),
		StopToken:         o.stopToken(),
	}

	passes := ceilDiv(total, batch)
	batches := make([]CandidateBatch, 0, passes)
	for p := range passes {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}

		n := min(batch, total-p*batch)
		codes, err := o.models.AR.Sample(ctx, conditioning, text, n, cfg, rng)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", p, err)
		}
		for i := range codes {
			codes[i] = padCodes(codes[i], s.MaxMelTokens, cfg.StopToken)
		}
		batches = append(batches, CandidateBatch{Codes: codes, Stop: cfg.StopToken, Calm: CalmToken})
		slog.Debug("candidate batch sampled", "batch", p+1, "of", passes, "size", n)
	}
	return batches, nil
}

// padCodes right-pads codes with stop up to n tokens and truncates longer
// sequences.
func padCodes(codes []int64, n int, stop int64) []int64 {
	if len(codes) >= n {
		return codes[:n]
	}
	out := make([]int64, n)
	copy(out, codes)
	for i := len(codes); i < n; i++ {
		out[i] = stop
	}
	return out
}

// RepairCandidate returns a copy of codes with everything from the first
// stop token onward replaced by calm and the last three positions set to
// StopTail. ok is false when codes hold no stop token; the copy is then
// unchanged.
func RepairCandidate(codes []int64, stop, calm int64) (repaired []int64, ok bool) {
	out := append([]int64(nil), codes...)

	first := -1
	for i, c := range out {
		if c == stop {
			first = i
			break
		}
	}
	if first < 0 {
		return out, false
	}

	for i := first; i < len(out); i++ {
		out[i] = calm
	}
	tail := StopTail[:]
	if len(out) < len(tail) {
		tail = tail[len(tail)-len(out):]
	}
	copy(out[len(out)-len(tail):], tail)
	return out, true
}

// repairBatch repairs every candidate of b in place and warns about those
// without a stop token.
func repairBatch(b *CandidateBatch) {
	for i, codes := range b.Codes {
		fixed, ok := RepairCandidate(codes, b.Stop, b.Calm)
		if !ok {
			slog.Warn("no stop token in candidate, the spoken audio is probably too long; using it unmodified", "candidate", i)
		}
		b.Codes[i] = fixed
	}
}

// BreathingRoom returns how many leading codes to keep: the position where a
// run of calm tokens first grows longer than room, or len(codes).
func BreathingRoom(codes []int64, calm int64, room int) int {
	run := 0
	for i, c := range codes {
		if c == calm {
			run++
		} else {
			run = 0
		}
		if run > room {
			return i
		}
	}
	return len(codes)
}
