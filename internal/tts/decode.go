package tts

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/example/go-tortoise-tts/internal/diffusion"
)

// boundDenoiser feeds one decode's embeddings to every denoising step.
type boundDenoiser struct {
	model Diffusion
	emb   Embeddings
}

func (b boundDenoiser) Denoise(ctx context.Context, x []float32, channels, length, timestep int, conditioningFree bool) ([]float32, error) {
	return b.model.Denoise(ctx, x, channels, length, timestep, b.emb, conditioningFree)
}

// reproject recovers the hidden latents of the winning candidates with a
// forced autoregressive pass.
func (o *Orchestrator) reproject(ctx context.Context, conditioning []float32, text []int64, winners []ScoredCandidate) ([][]float32, int, error) {
	codes := make([][]int64, len(winners))
	for i, w := range winners {
		codes[i] = w.Codes
	}

	rows, dim, err := o.models.AR.Latents(ctx, conditioning, text, codes)
	if err != nil {
		return nil, 0, err
	}
	if len(rows) != len(codes) {
		return nil, 0, fmt.Errorf("got %d latent rows for %d candidates", len(rows), len(codes))
	}
	for i, r := range rows {
		if dim < 1 || len(r) != len(codes[i])*dim {
			return nil, 0, fmt.Errorf("latent row %d has %d values, want %d x %d", i, len(r), len(codes[i]), dim)
		}
	}
	return rows, dim, nil
}

// decode turns one candidate's latents into a denormalized mel spectrogram
// and returns it with its frame count.
func (o *Orchestrator) decode(ctx context.Context, codes []int64, latents []float32, dim int, conditioning []float32, sched *diffusion.Schedule, s Settings, rng *rand.Rand) ([]float32, int, error) {
	frames := BreathingRoom(codes, CalmToken, s.BreathingRoom)
	if frames < 1 {
		return nil, 0, fmt.Errorf("candidate starts with more than %d calm tokens, nothing to decode", s.BreathingRoom)
	}
	if frames < len(codes) {
		slog.Debug("latents truncated at calm run", "frames", frames, "codes", len(codes))
	}
	latents = latents[:frames*dim]

	length := diffusion.OutputLength(frames, o.opts.InputSampleRate, o.opts.OutputSampleRate)
	if length < 1 {
		return nil, 0, fmt.Errorf("output length %d for %d frames", length, frames)
	}

	emb, err := o.models.Diffusion.Embeddings(ctx, latents, frames, dim, conditioning, length)
	if err != nil {
		return nil, 0, fmt.Errorf("embeddings: %w", err)
	}

	mel, err := sched.Sample(ctx, boundDenoiser{model: o.models.Diffusion, emb: emb}, diffusion.Options{
		Channels:          diffusion.MelChannels,
		Length:            length,
		Temperature:       s.DiffusionTemperature,
		Sampler:           s.Sampler,
		ConditioningFree:  s.ConditioningFree,
		ConditioningFreeK: s.ConditioningFreeK,
		Ramp:              s.ConditioningFreeRamp,
		Interrupt:         func() error { return checkpoint(ctx) },
	}, rng)
	if err != nil {
		return nil, 0, err
	}

	diffusion.DenormalizeMel(mel)
	return diffusion.TruncateFrames(mel, diffusion.MelChannels, length, length), length, nil
}
