package tts

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-tortoise-tts/internal/audio"
	"github.com/example/go-tortoise-tts/internal/onnx"
	"github.com/example/go-tortoise-tts/internal/safetensors"
)

// ConditioningSamples is the fixed window, in input-rate samples, each
// reference clip is cut or padded to for the autoregressive branch.
const ConditioningSamples = 132300

// ConditioningLatents summarize a voice for both model branches. They are
// never modified after they are computed and may be reused across calls.
type ConditioningLatents struct {
	Autoregressive []float32
	Diffusion      []float32
	// ClipMels are the per-clip autoregressive mels, present only when the
	// latents were computed from audio. The voice scorer needs them.
	ClipMels []Mel
}

// LatentOptions control ComputeLatents.
type LatentOptions struct {
	// Slices is the diffusion chunk count; 0 means 1.
	Slices int
	// MaxChunkSize raises Slices until every chunk fits. 0 disables it.
	MaxChunkSize int
	// Seed drives the random crop of long clips.
	Seed int64
}

// ComputeLatents derives conditioning latents from reference clips at the
// input sample rate.
func (o *Orchestrator) ComputeLatents(ctx context.Context, clips [][]float32, opts LatentOptions) (*ConditioningLatents, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, done := o.begin(ctx)
	defer done()

	l, err := o.computeLatents(ctx, clips, opts.Slices, opts.MaxChunkSize, rand.New(rand.NewSource(opts.Seed)))
	return l, killed(ctx, err)
}

func (o *Orchestrator) computeLatents(ctx context.Context, clips [][]float32, slices, maxChunk int, rng *rand.Rand) (*ConditioningLatents, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("conditioning: %w: no reference clips", ErrNoVoice)
	}
	for i, c := range clips {
		if len(c) == 0 {
			return nil, fmt.Errorf("conditioning: clip %d is empty", i)
		}
	}

	out := &ConditioningLatents{}

	err := o.stage("ar_conditioning", []string{onnx.GraphMelAR, onnx.GraphARConditioning}, func() error {
		windows := make([][]float32, len(clips))
		for i, c := range clips {
			windows[i] = conditioningWindow(c, ConditioningSamples, rng)
		}

		mels := make([]Mel, len(windows))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, o.opts.Workers))
		for i, w := range windows {
			g.Go(func() error {
				m, err := o.models.Mels.AutoregressiveMel(gctx, w)
				if err != nil {
					return fmt.Errorf("clip %d mel: %w", i, err)
				}
				mels[i] = m
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		latent, err := o.models.AR.Conditioning(ctx, mels)
		if err != nil {
			return err
		}
		out.Autoregressive = latent
		out.ClipMels = mels
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("autoregressive conditioning: %w", err)
	}

	err = o.stage("diffusion_conditioning", []string{onnx.GraphMelDiffusion, onnx.GraphDiffusionConditioning}, func() error {
		resampled := make([][]float32, len(clips))
		for i, c := range clips {
			r, err := audio.Resample(c, o.opts.InputSampleRate, o.opts.OutputSampleRate)
			if err != nil {
				return fmt.Errorf("clip %d: %w", i, err)
			}
			resampled[i] = r
		}

		chunks := splitChunks(audio.Concat(resampled...), SliceCount(totalLen(resampled), slices, maxChunk))
		mels := make([]Mel, len(chunks))
		for i, c := range chunks {
			if err := checkpoint(ctx); err != nil {
				return err
			}
			m, err := o.models.Mels.DiffusionMel(ctx, c)
			if err != nil {
				return fmt.Errorf("slice %d mel: %w", i, err)
			}
			mels[i] = m
		}

		latent, err := o.models.Diffusion.Conditioning(ctx, mels)
		if err != nil {
			return err
		}
		out.Diffusion = latent
		slog.Debug("conditioning latents ready", "clips", len(clips), "slices", len(chunks))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("diffusion conditioning: %w", err)
	}

	return out, nil
}

// conditioningWindow zero-pads short clips to n samples and takes a random
// n-sample crop of long ones.
func conditioningWindow(clip []float32, n int, rng *rand.Rand) []float32 {
	gap := len(clip) - n
	if gap <= 0 {
		return audio.PadOrTruncate(clip, n)
	}
	start := rng.Intn(gap + 1)
	return append([]float32(nil), clip[start:start+n]...)
}

// SliceCount returns the diffusion chunk count for n samples. slices 0 means
// 1. When maxChunk is positive and n exceeds it, the count is the smallest S
// with ceil(n/S) <= maxChunk.
func SliceCount(n, slices, maxChunk int) int {
	if slices < 1 {
		return 1
	}
	if maxChunk > 0 && n > maxChunk {
		slices = 1
		for ceilDiv(n, slices) > maxChunk {
			slices++
		}
	}
	return slices
}

// splitChunks cuts samples into pieces of ceil(len/slices) samples, padding
// the tail piece so every chunk has the first chunk's length. Fewer than
// slices chunks come back when the samples run out early.
func splitChunks(samples []float32, slices int) [][]float32 {
	size := ceilDiv(len(samples), max(1, slices))
	if size == 0 {
		return nil
	}

	var chunks [][]float32
	for start := 0; start < len(samples); start += size {
		end := min(start+size, len(samples))
		chunks = append(chunks, audio.PadOrTruncate(samples[start:end], size))
	}
	return chunks
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func totalLen(clips [][]float32) int {
	n := 0
	for _, c := range clips {
		n += len(c)
	}
	return n
}

// randomLatents returns the latents of the random generators, computing them
// on first use.
func (o *Orchestrator) randomLatents(ctx context.Context) (*ConditioningLatents, error) {
	o.randomMu.Lock()
	defer o.randomMu.Unlock()

	if o.random != nil {
		return o.random, nil
	}
	if o.models.Random == nil {
		return nil, fmt.Errorf("%w: no reference audio and no random latent generators", ErrNoVoice)
	}

	ar, diff, err := o.models.Random.RandomLatents(ctx)
	if err != nil {
		return nil, fmt.Errorf("random latents: %w", err)
	}
	o.random = &ConditioningLatents{Autoregressive: ar, Diffusion: diff}
	slog.Info("random latents ready", "autoregressive_dim", len(ar), "diffusion_dim", len(diff))
	return o.random, nil
}

// SaveLatents writes the latent pair to a safetensors file. Clip mels are not
// persisted.
func SaveLatents(path string, l *ConditioningLatents, voice string, clips, inputRate, outputRate int) error {
	return safetensors.SaveLatents(path, safetensors.Latents{
		Autoregressive: l.Autoregressive,
		Diffusion:      l.Diffusion,
		Metadata: map[string]string{
			safetensors.MetaVoice:      voice,
			safetensors.MetaClips:      strconv.Itoa(clips),
			safetensors.MetaInputRate:  strconv.Itoa(inputRate),
			safetensors.MetaOutputRate: strconv.Itoa(outputRate),
		},
	})
}

// LoadLatents reads a latent pair written by SaveLatents.
func LoadLatents(path string) (*ConditioningLatents, error) {
	l, err := safetensors.LoadLatents(path)
	if err != nil {
		return nil, err
	}
	return &ConditioningLatents{Autoregressive: l.Autoregressive, Diffusion: l.Diffusion}, nil
}
