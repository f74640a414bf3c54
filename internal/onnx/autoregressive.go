package onnx

import (
	"context"
	"fmt"
)

// Graph names listed in the model manifest.
const (
	GraphARConditioning        = "autoregressive_conditioning"
	GraphARLogits              = "autoregressive_logits"
	GraphARLatents             = "autoregressive_latents"
	GraphCLVP                  = "clvp"
	GraphCVVP                  = "cvvp"
	GraphDiffusionConditioning = "diffusion_conditioning"
	GraphDiffusionEmbeddings   = "diffusion_timestep_independent"
	GraphDiffusionDenoise      = "diffusion_denoise"
	GraphVocoder               = "vocoder"
	GraphRandomAR              = "rlg_autoregressive"
	GraphRandomDiffusion       = "rlg_diffusion"
	GraphMelAR                 = "mel_autoregressive"
	GraphMelDiffusion          = "mel_diffusion"
	GraphAligner               = "aligner"
)

// CoreGraphs are required for any synthesis.
var CoreGraphs = []string{
	GraphARConditioning,
	GraphARLogits,
	GraphARLatents,
	GraphCLVP,
	GraphDiffusionConditioning,
	GraphDiffusionEmbeddings,
	GraphDiffusionDenoise,
	GraphVocoder,
	GraphMelAR,
	GraphMelDiffusion,
}

// AutoregressiveConditioning maps stacked per-clip mels [1, C, 80, T] to the
// autoregressive conditioning latent.
func (e *Engine) AutoregressiveConditioning(ctx context.Context, mels *Tensor) (*Tensor, error) {
	outputs, err := e.run(ctx, GraphARConditioning, map[string]*Tensor{"mels": mels}, "latent")
	if err != nil {
		return nil, err
	}
	return outputs["latent"], nil
}

// AutoregressiveLogits returns next-token logits [B, V] for the mel token
// prefix of each row.
func (e *Engine) AutoregressiveLogits(ctx context.Context, conditioning, textTokens, melTokens *Tensor) (*Tensor, error) {
	outputs, err := e.run(ctx, GraphARLogits, map[string]*Tensor{
		"conditioning": conditioning,
		"text_tokens":  textTokens,
		"mel_tokens":   melTokens,
	}, "logits")
	if err != nil {
		return nil, err
	}

	logits := outputs["logits"]
	if len(logits.Shape()) != 2 {
		return nil, fmt.Errorf("%s: logits shape %v, want [B, V]", GraphARLogits, logits.Shape())
	}
	return logits, nil
}

// AutoregressiveLatents runs the model in forced mode over fixed mel codes and
// returns the final hidden states [B, M, D].
func (e *Engine) AutoregressiveLatents(ctx context.Context, conditioning, textTokens, melCodes *Tensor) (*Tensor, error) {
	outputs, err := e.run(ctx, GraphARLatents, map[string]*Tensor{
		"conditioning": conditioning,
		"text_tokens":  textTokens,
		"mel_codes":    melCodes,
	}, "latents")
	if err != nil {
		return nil, err
	}

	latents := outputs["latents"]
	if len(latents.Shape()) != 3 {
		return nil, fmt.Errorf("%s: latents shape %v, want [B, M, D]", GraphARLatents, latents.Shape())
	}
	return latents, nil
}

// CLVPScores scores text tokens against candidate mel codes, one per row.
func (e *Engine) CLVPScores(ctx context.Context, textTokens, melCodes *Tensor) ([]float32, error) {
	outputs, err := e.run(ctx, GraphCLVP, map[string]*Tensor{
		"text_tokens": textTokens,
		"mel_codes":   melCodes,
	}, "scores")
	if err != nil {
		return nil, err
	}
	return scoreRows(GraphCLVP, outputs["scores"], melCodes.Dim(0))
}

// CVVPScores scores a reference clip mel against candidate mel codes.
func (e *Engine) CVVPScores(ctx context.Context, conditioningMels, melCodes *Tensor) ([]float32, error) {
	outputs, err := e.run(ctx, GraphCVVP, map[string]*Tensor{
		"conditioning_mels": conditioningMels,
		"mel_codes":         melCodes,
	}, "scores")
	if err != nil {
		return nil, err
	}
	return scoreRows(GraphCVVP, outputs["scores"], melCodes.Dim(0))
}

func scoreRows(graph string, scores *Tensor, want int) ([]float32, error) {
	data, err := ExtractFloat32(scores)
	if err != nil {
		return nil, fmt.Errorf("%s: extract scores: %w", graph, err)
	}
	if len(data) != want {
		return nil, fmt.Errorf("%s: got %d scores for %d candidates", graph, len(data), want)
	}
	return data, nil
}
