package tts

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/example/go-tortoise-tts/internal/align"
	"github.com/example/go-tortoise-tts/internal/onnx"
)

// EngineModels adapts an ONNX engine to the orchestrator's model interfaces.
// Optional graphs missing from the manifest leave the matching field nil.
// vocab may be nil when redaction is not used.
func EngineModels(e *onnx.Engine, vocab *align.Vocab) Models {
	m := Models{
		Mels:       onnxMels{e},
		AR:         onnxAutoregressive{e},
		Diffusion:  onnxDiffusion{e},
		TextScorer: onnxCLVP{e},
		Vocoder:    onnxVocoder{e},
		Residency:  onnxResidency{e},
		StartToken: onnx.DefaultStartMelToken,
		StopToken:  onnx.DefaultStopMelToken,
	}
	if e.Has(onnx.GraphCVVP) {
		m.VoiceScorer = onnxCVVP{e}
	}
	if e.Has(onnx.GraphRandomAR) && e.Has(onnx.GraphRandomDiffusion) {
		m.Random = onnxRandom{e}
	}
	if e.Has(onnx.GraphAligner) {
		if vocab == nil {
			vocab = align.DefaultVocab()
		}
		m.Redactor = align.New(onnxEmitter{e}, vocab)
	}
	return m
}

type onnxResidency struct{ e *onnx.Engine }

func (r onnxResidency) Acquire(name string) error {
	_, err := r.e.Acquire(name)
	return err
}

func (r onnxResidency) Release(names ...string) { r.e.Release(names...) }

type onnxMels struct{ e *onnx.Engine }

func (m onnxMels) AutoregressiveMel(ctx context.Context, wav []float32) (Mel, error) {
	return m.mel(ctx, onnx.GraphMelAR, wav)
}

func (m onnxMels) DiffusionMel(ctx context.Context, wav []float32) (Mel, error) {
	return m.mel(ctx, onnx.GraphMelDiffusion, wav)
}

func (m onnxMels) mel(ctx context.Context, graph string, wav []float32) (Mel, error) {
	t, err := m.e.MelSpectrogram(ctx, graph, wav)
	if err != nil {
		return Mel{}, err
	}
	data, err := onnx.ExtractFloat32(t)
	if err != nil {
		return Mel{}, fmt.Errorf("%s: %w", graph, err)
	}
	return Mel{Channels: t.Dim(1), Frames: t.Dim(2), Data: data}, nil
}

// stackMels builds a [1, len(mels), C, T] tensor.
func stackMels(mels []Mel) (*onnx.Tensor, error) {
	if len(mels) == 0 {
		return nil, fmt.Errorf("no mels to stack")
	}
	first := mels[0]
	flat := make([]float32, 0, len(mels)*len(first.Data))
	for i, m := range mels {
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("mel %d: %w", i, err)
		}
		if m.Channels != first.Channels || m.Frames != first.Frames {
			return nil, fmt.Errorf("mel %d is [%d, %d], want [%d, %d]", i, m.Channels, m.Frames, first.Channels, first.Frames)
		}
		flat = append(flat, m.Data...)
	}
	return onnx.NewTensor(flat, []int64{1, int64(len(mels)), int64(first.Channels), int64(first.Frames)})
}

type onnxAutoregressive struct{ e *onnx.Engine }

func (a onnxAutoregressive) Conditioning(ctx context.Context, clipMels []Mel) ([]float32, error) {
	mels, err := stackMels(clipMels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", onnx.GraphARConditioning, err)
	}
	latent, err := a.e.AutoregressiveConditioning(ctx, mels)
	if err != nil {
		return nil, err
	}
	return onnx.ExtractFloat32(latent)
}

func (a onnxAutoregressive) Sample(ctx context.Context, conditioning []float32, text []int64, batch int, cfg onnx.SamplingConfig, rng *rand.Rand) ([][]int64, error) {
	return a.e.SampleCodes(ctx, conditioning, text, batch, cfg, rng)
}

func (a onnxAutoregressive) Latents(ctx context.Context, conditioning []float32, text []int64, codes [][]int64) ([][]float32, int, error) {
	return a.e.ForcedLatents(ctx, conditioning, text, codes)
}

type onnxDiffusion struct{ e *onnx.Engine }

func (d onnxDiffusion) Conditioning(ctx context.Context, sliceMels []Mel) ([]float32, error) {
	mels, err := stackMels(sliceMels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", onnx.GraphDiffusionConditioning, err)
	}
	latent, err := d.e.DiffusionConditioning(ctx, mels)
	if err != nil {
		return nil, err
	}
	return onnx.ExtractFloat32(latent)
}

func (d onnxDiffusion) Embeddings(ctx context.Context, latents []float32, frames, dim int, conditioning []float32, outputLength int) (Embeddings, error) {
	lat, err := onnx.NewTensor(latents, []int64{1, int64(frames), int64(dim)})
	if err != nil {
		return Embeddings{}, fmt.Errorf("%s: latents: %w", onnx.GraphDiffusionEmbeddings, err)
	}
	cond, err := onnx.NewTensor(conditioning, []int64{1, int64(len(conditioning))})
	if err != nil {
		return Embeddings{}, fmt.Errorf("%s: conditioning: %w", onnx.GraphDiffusionEmbeddings, err)
	}

	emb, err := d.e.DiffusionEmbeddings(ctx, lat, cond, outputLength)
	if err != nil {
		return Embeddings{}, err
	}
	data, err := onnx.ExtractFloat32(emb)
	if err != nil {
		return Embeddings{}, err
	}
	return Embeddings{Data: data, Shape: emb.Shape()}, nil
}

func (d onnxDiffusion) Denoise(ctx context.Context, x []float32, channels, length, timestep int, emb Embeddings, conditioningFree bool) ([]float32, error) {
	xt, err := onnx.NewTensor(x, []int64{1, int64(channels), int64(length)})
	if err != nil {
		return nil, err
	}
	et, err := onnx.NewTensor(emb.Data, emb.Shape)
	if err != nil {
		return nil, err
	}

	out, err := d.e.DiffusionDenoise(ctx, xt, timestep, et, conditioningFree)
	if err != nil {
		return nil, err
	}
	return onnx.ExtractFloat32(out)
}

type onnxCLVP struct{ e *onnx.Engine }

func (c onnxCLVP) ScoreText(ctx context.Context, text []int64, codes [][]int64) ([]float32, error) {
	textRows := make([][]int64, len(codes))
	for i := range textRows {
		textRows[i] = text
	}
	tt, err := onnx.StackInt64(textRows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", onnx.GraphCLVP, err)
	}
	ct, err := onnx.StackInt64(codes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", onnx.GraphCLVP, err)
	}
	return c.e.CLVPScores(ctx, tt, ct)
}

type onnxCVVP struct{ e *onnx.Engine }

func (c onnxCVVP) ScoreVoice(ctx context.Context, clip Mel, codes [][]int64) ([]float32, error) {
	if err := clip.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", onnx.GraphCVVP, err)
	}
	rows := make([][]float32, len(codes))
	for i := range rows {
		rows[i] = clip.Data
	}
	mt, err := onnx.StackFloat32(rows, int64(clip.Channels), int64(clip.Frames))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", onnx.GraphCVVP, err)
	}
	ct, err := onnx.StackInt64(codes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", onnx.GraphCVVP, err)
	}
	return c.e.CVVPScores(ctx, mt, ct)
}

type onnxVocoder struct{ e *onnx.Engine }

func (v onnxVocoder) Vocode(ctx context.Context, mel []float32, channels, frames int) ([]float32, error) {
	t, err := onnx.NewTensor(mel, []int64{1, int64(channels), int64(frames)})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", onnx.GraphVocoder, err)
	}
	return v.e.Vocode(ctx, t)
}

type onnxRandom struct{ e *onnx.Engine }

func (r onnxRandom) RandomLatents(ctx context.Context) ([]float32, []float32, error) {
	ar, err := r.e.RandomLatent(ctx, onnx.GraphRandomAR)
	if err != nil {
		return nil, nil, err
	}
	diff, err := r.e.RandomLatent(ctx, onnx.GraphRandomDiffusion)
	if err != nil {
		return nil, nil, err
	}

	arData, err := onnx.ExtractFloat32(ar)
	if err != nil {
		return nil, nil, err
	}
	diffData, err := onnx.ExtractFloat32(diff)
	if err != nil {
		return nil, nil, err
	}
	return arData, diffData, nil
}

type onnxEmitter struct{ e *onnx.Engine }

func (a onnxEmitter) Emissions(ctx context.Context, wav []float32) ([][]float32, error) {
	logits, err := a.e.AlignerLogits(ctx, wav)
	if err != nil {
		return nil, err
	}
	data, err := onnx.ExtractFloat32(logits)
	if err != nil {
		return nil, err
	}

	frames, vocab := logits.Dim(1), logits.Dim(2)
	out := make([][]float32, frames)
	for i := range out {
		out[i] = data[i*vocab : (i+1)*vocab]
	}
	return out, nil
}
