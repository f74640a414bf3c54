package onnx

import (
	"context"
	"fmt"
)

// Vocode converts a mel spectrogram [1, 100, L] into PCM samples.
func (e *Engine) Vocode(ctx context.Context, mel *Tensor) ([]float32, error) {
	outputs, err := e.run(ctx, GraphVocoder, map[string]*Tensor{"mel": mel}, "waveform")
	if err != nil {
		return nil, err
	}

	pcm, err := ExtractFloat32(outputs["waveform"])
	if err != nil {
		return nil, fmt.Errorf("%s: extract waveform: %w", GraphVocoder, err)
	}
	return pcm, nil
}

// MelSpectrogram runs one of the mel front-end graphs over mono PCM.
func (e *Engine) MelSpectrogram(ctx context.Context, graph string, wav []float32) (*Tensor, error) {
	if len(wav) == 0 {
		return nil, fmt.Errorf("%s: empty waveform", graph)
	}

	in, err := NewTensor(wav, []int64{1, int64(len(wav))})
	if err != nil {
		return nil, err
	}

	outputs, err := e.run(ctx, graph, map[string]*Tensor{"wav": in}, "mel")
	if err != nil {
		return nil, err
	}

	mel := outputs["mel"]
	if len(mel.Shape()) != 3 {
		return nil, fmt.Errorf("%s: mel shape %v, want [1, C, T]", graph, mel.Shape())
	}
	return mel, nil
}

// RandomLatent maps the constant input 0.0 through a random latent generator.
func (e *Engine) RandomLatent(ctx context.Context, graph string) (*Tensor, error) {
	in, err := NewTensor([]float32{0}, []int64{1})
	if err != nil {
		return nil, err
	}

	outputs, err := e.run(ctx, graph, map[string]*Tensor{"input": in}, "latent")
	if err != nil {
		return nil, err
	}
	return outputs["latent"], nil
}

// AlignerLogits returns per-frame character logits [1, F, V] for 16 kHz PCM.
func (e *Engine) AlignerLogits(ctx context.Context, wav []float32) (*Tensor, error) {
	in, err := NewTensor(wav, []int64{1, int64(len(wav))})
	if err != nil {
		return nil, err
	}

	outputs, err := e.run(ctx, GraphAligner, map[string]*Tensor{"wav": in}, "logits")
	if err != nil {
		return nil, err
	}

	logits := outputs["logits"]
	if len(logits.Shape()) != 3 {
		return nil, fmt.Errorf("%s: logits shape %v, want [1, F, V]", GraphAligner, logits.Shape())
	}
	return logits, nil
}
