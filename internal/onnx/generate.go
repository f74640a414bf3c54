package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// SampleCodes draws batch candidate mel code sequences conditioned on text
// and the autoregressive conditioning latent.
//
// Each step feeds the full mel token prefix (starting with cfg.StartToken) to
// the autoregressive_logits graph. A row that emitted cfg.StopToken keeps
// receiving the stop token, so every returned row has the same length and the
// start token is stripped.
func (e *Engine) SampleCodes(ctx context.Context, conditioning []float32, textTokens []int64, batch int, cfg SamplingConfig, rng *rand.Rand) ([][]int64, error) {
	if len(textTokens) == 0 {
		return nil, errors.New("sample codes: text tokens must not be empty")
	}
	if len(conditioning) == 0 {
		return nil, errors.New("sample codes: conditioning must not be empty")
	}
	if batch < 1 {
		return nil, fmt.Errorf("sample codes: batch must be >= 1, got %d", batch)
	}
	if cfg.MaxMelTokens < 1 {
		return nil, fmt.Errorf("sample codes: max mel tokens must be >= 1, got %d", cfg.MaxMelTokens)
	}
	if rng == nil {
		return nil, errors.New("sample codes: nil random source")
	}

	condTensor, err := repeatRows(conditioning, batch)
	if err != nil {
		return nil, fmt.Errorf("sample codes: %w", err)
	}
	textRows := make([][]int64, batch)
	for i := range textRows {
		textRows[i] = textTokens
	}
	textTensor, err := StackInt64(textRows)
	if err != nil {
		return nil, fmt.Errorf("sample codes: %w", err)
	}

	rows := make([][]int64, batch)
	for i := range rows {
		rows[i] = make([]int64, 1, cfg.MaxMelTokens+1)
		rows[i][0] = cfg.StartToken
	}
	done := make([]bool, batch)
	start := time.Now()

	for step := range cfg.MaxMelTokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		melTensor, err := StackInt64(rows)
		if err != nil {
			return nil, fmt.Errorf("sample codes step %d: %w", step, err)
		}

		logits, err := e.AutoregressiveLogits(ctx, condTensor, textTensor, melTensor)
		if err != nil {
			return nil, fmt.Errorf("sample codes step %d: %w", step, err)
		}
		if logits.Dim(0) != batch {
			return nil, fmt.Errorf("sample codes step %d: logits batch %d, want %d", step, logits.Dim(0), batch)
		}

		perRow, err := Rows(logits)
		if err != nil {
			return nil, fmt.Errorf("sample codes step %d: %w", step, err)
		}

		remaining := 0
		for i := range rows {
			next := cfg.StopToken
			if !done[i] {
				next = SampleToken(perRow[i], rows[i], cfg, rng)
				if next == cfg.StopToken {
					done[i] = true
				} else {
					remaining++
				}
			}
			rows[i] = append(rows[i], next)
		}

		if remaining == 0 {
			break
		}
	}

	out := make([][]int64, batch)
	for i, r := range rows {
		out[i] = r[1:]
	}

	slog.Debug("sampled mel codes", "batch", batch, "len", len(out[0]), "ms", time.Since(start).Milliseconds())

	return out, nil
}

// ForcedLatents re-runs the autoregressive model over fixed codes and returns
// one [M, D] latent matrix per row, flattened.
func (e *Engine) ForcedLatents(ctx context.Context, conditioning []float32, textTokens []int64, codes [][]int64) ([][]float32, int, error) {
	if len(codes) == 0 {
		return nil, 0, errors.New("forced latents: no codes")
	}

	condTensor, err := repeatRows(conditioning, len(codes))
	if err != nil {
		return nil, 0, fmt.Errorf("forced latents: %w", err)
	}
	textRows := make([][]int64, len(codes))
	for i := range textRows {
		textRows[i] = textTokens
	}
	textTensor, err := StackInt64(textRows)
	if err != nil {
		return nil, 0, fmt.Errorf("forced latents: %w", err)
	}
	codeTensor, err := StackInt64(codes)
	if err != nil {
		return nil, 0, fmt.Errorf("forced latents: %w", err)
	}

	latents, err := e.AutoregressiveLatents(ctx, condTensor, textTensor, codeTensor)
	if err != nil {
		return nil, 0, err
	}

	rows, err := Rows(latents)
	if err != nil {
		return nil, 0, fmt.Errorf("forced latents: %w", err)
	}
	return rows, latents.Dim(2), nil
}

func repeatRows(row []float32, n int) (*Tensor, error) {
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = row
	}
	return StackFloat32(rows, int64(len(row)))
}
