package tts

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// ScoredCandidate is a ranked candidate. Index counts across all batches in
// sampling order.
type ScoredCandidate struct {
	Index int
	Codes []int64
	Score float32
}

// BlendScores mixes text and voice scores: voice*w + text*(1-w). w == 0
// returns the text scores and w == 1 the voice scores.
func BlendScores(text, voice []float32, w float64) []float32 {
	switch {
	case w <= 0 || voice == nil:
		return slices.Clone(text)
	case w >= 1:
		return slices.Clone(voice)
	}

	out := make([]float32, len(text))
	for i := range out {
		out[i] = float32(float64(voice[i])*w + float64(text[i])*(1-w))
	}
	return out
}

// TopK returns the indices of the k highest scores, best first. Equal scores
// keep their original order.
func TopK(scores []float32, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})
	return idx[:min(k, len(idx))]
}

// rank repairs and scores every batch and returns the k best candidates.
func (o *Orchestrator) rank(ctx context.Context, batches []CandidateBatch, text []int64, latents *ConditioningLatents, w float64, k int) ([]ScoredCandidate, error) {
	useVoice := w > 0 && len(latents.ClipMels) > 0 && o.models.VoiceScorer != nil
	useText := w < 1 || !useVoice
	if w > 0 && !useVoice {
		slog.Warn("voice scoring unavailable, ranking by text score only", "cvvp_amount", w, "clip_mels", len(latents.ClipMels))
		w = 0
	}

	var (
		codes  [][]int64
		scores []float32
	)
	for bi := range batches {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}

		b := &batches[bi]
		repairBatch(b)

		var textScores, voiceScores []float32
		if useText {
			s, err := o.models.TextScorer.ScoreText(ctx, text, b.Codes)
			if err != nil {
				return nil, fmt.Errorf("text score batch %d: %w", bi, err)
			}
			if len(s) != len(b.Codes) {
				return nil, fmt.Errorf("text score batch %d: got %d scores for %d candidates", bi, len(s), len(b.Codes))
			}
			textScores = s
		}
		if useVoice {
			s, err := o.voiceScores(ctx, latents.ClipMels, b.Codes)
			if err != nil {
				return nil, fmt.Errorf("voice score batch %d: %w", bi, err)
			}
			voiceScores = s
		}

		codes = append(codes, b.Codes...)
		scores = append(scores, BlendScores(textScores, voiceScores, w)...)
	}

	best := TopK(scores, k)
	out := make([]ScoredCandidate, len(best))
	for i, idx := range best {
		out[i] = ScoredCandidate{Index: idx, Codes: codes[idx], Score: scores[idx]}
	}
	return out, nil
}

// voiceScores averages the voice score of codes over every reference clip.
func (o *Orchestrator) voiceScores(ctx context.Context, clips []Mel, codes [][]int64) ([]float32, error) {
	sum := make([]float64, len(codes))
	for ci, clip := range clips {
		s, err := o.models.VoiceScorer.ScoreVoice(ctx, clip, codes)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", ci, err)
		}
		if len(s) != len(codes) {
			return nil, fmt.Errorf("clip %d: got %d scores for %d candidates", ci, len(s), len(codes))
		}
		for i, v := range s {
			sum[i] += float64(v)
		}
	}

	out := make([]float32, len(codes))
	for i, v := range sum {
		out[i] = float32(v / float64(len(clips)))
	}
	return out, nil
}
