package tts

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/example/go-tortoise-tts/internal/onnx"
)

// Mel is a [Channels, Frames] spectrogram flattened row-major.
type Mel struct {
	Channels int
	Frames   int
	Data     []float32
}

func (m Mel) validate() error {
	if m.Channels < 1 || m.Frames < 1 || len(m.Data) != m.Channels*m.Frames {
		return fmt.Errorf("mel [%d, %d] holds %d values", m.Channels, m.Frames, len(m.Data))
	}
	return nil
}

// Embeddings are the timestep-independent diffusion inputs computed once per
// decode.
type Embeddings struct {
	Data  []float32
	Shape []int64
}

// MelFrontEnd turns reference audio into the spectrograms each model branch
// conditions on.
type MelFrontEnd interface {
	// AutoregressiveMel expects audio at the input sample rate.
	AutoregressiveMel(ctx context.Context, wav []float32) (Mel, error)
	// DiffusionMel expects audio at the output sample rate.
	DiffusionMel(ctx context.Context, wav []float32) (Mel, error)
}

// Autoregressive is the mel token model.
type Autoregressive interface {
	Conditioning(ctx context.Context, clipMels []Mel) ([]float32, error)
	Sample(ctx context.Context, conditioning []float32, text []int64, batch int, cfg onnx.SamplingConfig, rng *rand.Rand) ([][]int64, error)
	// Latents runs the forced forward pass and returns one [M*dim] row per
	// code sequence.
	Latents(ctx context.Context, conditioning []float32, text []int64, codes [][]int64) ([][]float32, int, error)
}

// Diffusion is the spectrogram decoder.
type Diffusion interface {
	Conditioning(ctx context.Context, sliceMels []Mel) ([]float32, error)
	Embeddings(ctx context.Context, latents []float32, frames, dim int, conditioning []float32, outputLength int) (Embeddings, error)
	Denoise(ctx context.Context, x []float32, channels, length, timestep int, emb Embeddings, conditioningFree bool) ([]float32, error)
}

// TextScorer rates how well candidate codes match the text.
type TextScorer interface {
	ScoreText(ctx context.Context, text []int64, codes [][]int64) ([]float32, error)
}

// VoiceScorer rates how well candidate codes match one reference clip.
type VoiceScorer interface {
	ScoreVoice(ctx context.Context, clip Mel, codes [][]int64) ([]float32, error)
}

// Vocoder renders a mel spectrogram to audio at the output sample rate.
type Vocoder interface {
	Vocode(ctx context.Context, mel []float32, channels, frames int) ([]float32, error)
}

// RandomLatentSource produces conditioning latents without reference audio.
type RandomLatentSource interface {
	RandomLatents(ctx context.Context) (autoregressive, diffusion []float32, err error)
}

// Redactor removes bracketed spans of text from generated audio.
type Redactor interface {
	Redact(ctx context.Context, wav []float32, sampleRate int, text, mode string) ([]float32, error)
}

// Residency loads and unloads models around pipeline stages.
type Residency interface {
	Acquire(name string) error
	Release(names ...string)
}

// Models bundles every collaborator the orchestrator drives. VoiceScorer,
// Random and Redactor are optional.
type Models struct {
	Mels        MelFrontEnd
	AR          Autoregressive
	Diffusion   Diffusion
	TextScorer  TextScorer
	VoiceScorer VoiceScorer
	Vocoder     Vocoder
	Random      RandomLatentSource
	Redactor    Redactor
	Residency   Residency

	// StartToken and StopToken delimit generated mel codes. Zero values
	// select the defaults.
	StartToken int64
	StopToken  int64
}

func (m Models) validate() error {
	switch {
	case m.Mels == nil:
		return fmt.Errorf("models: mel front end is required")
	case m.AR == nil:
		return fmt.Errorf("models: autoregressive model is required")
	case m.Diffusion == nil:
		return fmt.Errorf("models: diffusion model is required")
	case m.TextScorer == nil:
		return fmt.Errorf("models: text scorer is required")
	case m.Vocoder == nil:
		return fmt.Errorf("models: vocoder is required")
	}
	return nil
}
