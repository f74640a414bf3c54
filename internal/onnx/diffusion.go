package onnx

import (
	"context"
	"fmt"
)

// DiffusionConditioning maps per-slice mels [1, S, 100, T] to the diffusion
// conditioning latent.
func (e *Engine) DiffusionConditioning(ctx context.Context, mels *Tensor) (*Tensor, error) {
	outputs, err := e.run(ctx, GraphDiffusionConditioning, map[string]*Tensor{"mels": mels}, "latent")
	if err != nil {
		return nil, err
	}
	return outputs["latent"], nil
}

// DiffusionEmbeddings computes the timestep-independent embeddings once per
// decode.
func (e *Engine) DiffusionEmbeddings(ctx context.Context, latents, conditioning *Tensor, outputLength int) (*Tensor, error) {
	outputs, err := e.run(ctx, GraphDiffusionEmbeddings, map[string]*Tensor{
		"latents":       latents,
		"conditioning":  conditioning,
		"output_length": Scalar1(int64(outputLength)),
	}, "embeddings")
	if err != nil {
		return nil, err
	}
	return outputs["embeddings"], nil
}

// DiffusionDenoise runs one denoiser step. The output stacks the epsilon
// prediction and the variance values along the channel axis: [1, 2C, L].
func (e *Engine) DiffusionDenoise(ctx context.Context, x *Tensor, timestep int, embeddings *Tensor, conditioningFree bool) (*Tensor, error) {
	free := int64(0)
	if conditioningFree {
		free = 1
	}

	outputs, err := e.run(ctx, GraphDiffusionDenoise, map[string]*Tensor{
		"x":                 x,
		"timesteps":         Scalar1(int64(timestep)),
		"embeddings":        embeddings,
		"conditioning_free": Scalar1(free),
	}, "output")
	if err != nil {
		return nil, err
	}

	out := outputs["output"]
	xShape, outShape := x.Shape(), out.Shape()
	if len(outShape) != 3 || len(xShape) != 3 || outShape[1] != 2*xShape[1] || outShape[2] != xShape[2] {
		return nil, fmt.Errorf("%s: output shape %v does not match input %v", GraphDiffusionDenoise, outShape, xShape)
	}
	return out, nil
}
