package tts

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/example/go-tortoise-tts/internal/onnx"
)

type fakeTokenizer struct{ n int }

func (f fakeTokenizer) Encode(text string) ([]int64, error) {
	n := f.n
	if n == 0 {
		n = len(text)
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i%30 + 1)
	}
	return out, nil
}

// fakeModels implements every model interface with cheap deterministic
// arithmetic and records how it was driven.
type fakeModels struct {
	mu sync.Mutex

	arMelCalls, diffMelCalls int
	arCondMels               int
	diffCondMels             int
	sampleBatches            []int
	randomCalls              int
	redactCalls              int
	textScoreCalls           int
	voiceScoreCalls          int
	acquired, released       []string
	resident                 map[string]int

	// onSample runs before each sampling pass; call counts from 1.
	onSample func(call int)
	// sampleChecksCtx makes Sample return ctx.Err() after onSample, as the
	// real step loop does.
	sampleChecksCtx bool
	// textScore and voiceScore override the default scoring.
	textScore  func(codes []int64) float32
	voiceScore func(codes []int64) float32
}

func newFakeModels() *fakeModels {
	return &fakeModels{resident: map[string]int{}}
}

func (f *fakeModels) models() Models {
	return Models{
		Mels:        f,
		AR:          fakeAR{f},
		Diffusion:   fakeDiffusion{f},
		TextScorer:  f,
		VoiceScorer: f,
		Vocoder:     f,
		Random:      f,
		Redactor:    f,
		Residency:   f,
		StartToken:  1000,
		StopToken:   999,
	}
}

func (f *fakeModels) AutoregressiveMel(_ context.Context, wav []float32) (Mel, error) {
	f.mu.Lock()
	f.arMelCalls++
	f.mu.Unlock()
	return Mel{Channels: 2, Frames: 3, Data: []float32{float32(len(wav)), 0, 0, 0, 0, 1}}, nil
}

func (f *fakeModels) DiffusionMel(_ context.Context, wav []float32) (Mel, error) {
	f.mu.Lock()
	f.diffMelCalls++
	f.mu.Unlock()
	return Mel{Channels: 2, Frames: 2, Data: []float32{float32(len(wav)), 1, 2, 3}}, nil
}

type fakeAR struct{ f *fakeModels }

func (a fakeAR) Conditioning(_ context.Context, mels []Mel) ([]float32, error) {
	a.f.arCondMels = len(mels)
	return []float32{float32(len(mels)), 0.5}, nil
}

// Sample emits 4+row%3 random codes in [100, 150) and then the stop token.
func (a fakeAR) Sample(ctx context.Context, _ []float32, _ []int64, batch int, cfg onnx.SamplingConfig, rng *rand.Rand) ([][]int64, error) {
	a.f.sampleBatches = append(a.f.sampleBatches, batch)
	if a.f.onSample != nil {
		a.f.onSample(len(a.f.sampleBatches))
	}
	if a.f.sampleChecksCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	rows := make([][]int64, batch)
	for r := range rows {
		n := 4 + r%3
		row := make([]int64, 0, n+1)
		for range n {
			row = append(row, int64(100+rng.Intn(50)))
		}
		rows[r] = append(row, cfg.StopToken)
	}
	return rows, nil
}

func (a fakeAR) Latents(_ context.Context, _ []float32, _ []int64, codes [][]int64) ([][]float32, int, error) {
	const dim = 2
	out := make([][]float32, len(codes))
	for i, c := range codes {
		row := make([]float32, 0, len(c)*dim)
		for _, v := range c {
			row = append(row, float32(v)/1000, -float32(v)/1000)
		}
		out[i] = row
	}
	return out, dim, nil
}

type fakeDiffusion struct{ f *fakeModels }

func (d fakeDiffusion) Conditioning(_ context.Context, mels []Mel) ([]float32, error) {
	d.f.diffCondMels = len(mels)
	return []float32{1, 2, 3}, nil
}

func (d fakeDiffusion) Embeddings(_ context.Context, latents []float32, frames, dim int, cond []float32, length int) (Embeddings, error) {
	return Embeddings{Data: []float32{float32(frames), float32(dim), float32(length)}, Shape: []int64{1, 3}}, nil
}

func (d fakeDiffusion) Denoise(_ context.Context, x []float32, channels, length, _ int, emb Embeddings, free bool) ([]float32, error) {
	out := make([]float32, 2*len(x))
	scale := float32(0.1)
	if free {
		scale = 0.05
	}
	for i, v := range x {
		out[i] = v * scale
	}
	return out, nil
}

func (f *fakeModels) ScoreText(_ context.Context, _ []int64, codes [][]int64) ([]float32, error) {
	f.textScoreCalls++
	out := make([]float32, len(codes))
	for i, c := range codes {
		if f.textScore != nil {
			out[i] = f.textScore(c)
		} else {
			out[i] = float32(c[0])
		}
	}
	return out, nil
}

func (f *fakeModels) ScoreVoice(_ context.Context, _ Mel, codes [][]int64) ([]float32, error) {
	f.voiceScoreCalls++
	out := make([]float32, len(codes))
	for i, c := range codes {
		if f.voiceScore != nil {
			out[i] = f.voiceScore(c)
		} else {
			out[i] = -float32(c[0])
		}
	}
	return out, nil
}

func (f *fakeModels) Vocode(_ context.Context, mel []float32, channels, frames int) ([]float32, error) {
	out := make([]float32, frames*8)
	for i := range out {
		out[i] = float32(math.Tanh(float64(mel[i%len(mel)]) / 10))
	}
	return out, nil
}

func (f *fakeModels) RandomLatents(context.Context) ([]float32, []float32, error) {
	f.randomCalls++
	return []float32{0.1, 0.2}, []float32{0.3}, nil
}

func (f *fakeModels) Redact(_ context.Context, wav []float32, _ int, _, _ string) ([]float32, error) {
	f.redactCalls++
	return wav[:len(wav)/2], nil
}

func (f *fakeModels) Acquire(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, name)
	f.resident[name]++
	return nil
}

func (f *fakeModels) Release(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.released = append(f.released, n)
		f.resident[n]--
	}
}
