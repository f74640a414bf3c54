package onnx

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeRunner struct {
	name   string
	fn     func(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	closed atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	return f.fn(ctx, inputs)
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Close() { f.closed.Add(1) }

// engineWithFakeRunners builds a preloaded Engine around fake runners
// (bypassing ORT entirely).
func engineWithFakeRunners(runners map[string]GraphRunner) *Engine {
	return NewEngineWithRunners(runners)
}

func constRunner(name, key string, data []float32, shape []int64) *fakeRunner {
	return &fakeRunner{
		name: name,
		fn: func(context.Context, map[string]*Tensor) (map[string]*Tensor, error) {
			out, err := NewTensor(data, shape)
			if err != nil {
				return nil, err
			}
			return map[string]*Tensor{key: out}, nil
		},
	}
}

func TestEngine_MissingGraph(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{})

	_, err := e.Vocode(context.Background(), Scalar1(0))
	if err == nil {
		t.Fatal("expected error for missing vocoder graph")
	}
	if !strings.Contains(err.Error(), "vocoder") {
		t.Fatalf("error should mention vocoder: %v", err)
	}
}

func TestEngine_MissingOutputKey(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphVocoder: constRunner(GraphVocoder, "wrong", []float32{1}, []int64{1}),
	})

	_, err := e.Vocode(context.Background(), Scalar1(0))
	if err == nil || !strings.Contains(err.Error(), "missing 'waveform'") {
		t.Fatalf("expected missing output error, got %v", err)
	}
}

func TestEngine_RunErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphCLVP: &fakeRunner{name: GraphCLVP, fn: func(context.Context, map[string]*Tensor) (map[string]*Tensor, error) {
			return nil, boom
		}},
	})

	codes, _ := StackInt64([][]int64{{1, 2}})
	_, err := e.CLVPScores(context.Background(), codes, codes)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped runner error, got %v", err)
	}
}

func TestEngine_ScoreCountMismatch(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphCLVP: constRunner(GraphCLVP, "scores", []float32{0.5}, []int64{1}),
	})

	codes, _ := StackInt64([][]int64{{1, 2}, {3, 4}})
	if _, err := e.CLVPScores(context.Background(), codes, codes); err == nil {
		t.Fatal("expected score count mismatch error")
	}
}

func TestEngine_LazyResidency(t *testing.T) {
	var loads atomic.Int32
	runners := map[string]*fakeRunner{}

	e := NewLazyEngine([]string{GraphVocoder}, func(name string) (GraphRunner, error) {
		loads.Add(1)
		r := constRunner(name, "waveform", []float32{0.1, 0.2}, []int64{1, 1, 2})
		runners[name] = r
		return r, nil
	}, false)

	if e.Resident(GraphVocoder) {
		t.Fatal("vocoder should not be resident before first use")
	}

	mel, _ := NewTensor(make([]float32, 100), []int64{1, 100, 1})
	if _, err := e.Vocode(context.Background(), mel); err != nil {
		t.Fatalf("Vocode: %v", err)
	}
	if _, err := e.Vocode(context.Background(), mel); err != nil {
		t.Fatalf("Vocode: %v", err)
	}
	if loads.Load() != 1 {
		t.Fatalf("expected 1 load while resident, got %d", loads.Load())
	}
	if !e.Resident(GraphVocoder) {
		t.Fatal("vocoder should be resident after use")
	}

	e.Release(GraphVocoder)
	if e.Resident(GraphVocoder) {
		t.Fatal("vocoder should be released")
	}
	if runners[GraphVocoder].closed.Load() != 1 {
		t.Fatal("released runner should be closed once")
	}

	if _, err := e.Vocode(context.Background(), mel); err != nil {
		t.Fatalf("Vocode after release: %v", err)
	}
	if loads.Load() != 2 {
		t.Fatalf("expected reload after release, got %d loads", loads.Load())
	}
}

func TestEngine_PreloadKeepsRunners(t *testing.T) {
	r := constRunner(GraphVocoder, "waveform", []float32{0}, []int64{1})
	e := engineWithFakeRunners(map[string]GraphRunner{GraphVocoder: r})

	e.Release(GraphVocoder)
	if !e.Resident(GraphVocoder) {
		t.Fatal("preloaded runner should survive Release")
	}

	e.Close()
	if r.closed.Load() != 1 || e.Resident(GraphVocoder) {
		t.Fatal("Close should close and drop every runner")
	}
}

func TestEngine_LoaderError(t *testing.T) {
	e := NewLazyEngine([]string{GraphVocoder}, func(string) (GraphRunner, error) {
		return nil, errors.New("no such file")
	}, false)

	_, err := e.Acquire(GraphVocoder)
	if err == nil || !strings.Contains(err.Error(), "load vocoder") {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, err := e.Acquire("unknown"); err == nil {
		t.Fatal("expected unknown graph error")
	}
}

func TestEngine_SwapClosesPrevious(t *testing.T) {
	old := constRunner(GraphARLogits, "logits", []float32{0}, []int64{1, 1})
	e := engineWithFakeRunners(map[string]GraphRunner{GraphARLogits: old})

	next := constRunner(GraphARLogits, "logits", []float32{1}, []int64{1, 1})
	e.Swap(GraphARLogits, next)

	if old.closed.Load() != 1 {
		t.Fatal("swapped-out runner should be closed")
	}
	got, _ := e.Acquire(GraphARLogits)
	if got != next {
		t.Fatal("Acquire should return the swapped-in runner")
	}
}

func TestEngine_SwapFileWithoutBackend(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{})
	if err := e.SwapFile(GraphARLogits, "/tmp/model.onnx"); err == nil {
		t.Fatal("expected error without ORT backend")
	}
}

func TestEngine_DenoiseShapeCheck(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphDiffusionDenoise: &fakeRunner{name: GraphDiffusionDenoise, fn: func(_ context.Context, in map[string]*Tensor) (map[string]*Tensor, error) {
			steps, _ := in["timesteps"].data.([]int64)
			free, _ := in["conditioning_free"].data.([]int64)
			if steps[0] != 7 || free[0] != 1 {
				return nil, errors.New("unexpected scalar inputs")
			}
			out, _ := NewTensor(make([]float32, 4*3), []int64{1, 4, 3})
			return map[string]*Tensor{"output": out}, nil
		}},
	})

	x, _ := NewTensor(make([]float32, 2*3), []int64{1, 2, 3})
	out, err := e.DiffusionDenoise(context.Background(), x, 7, x, true)
	if err != nil {
		t.Fatalf("DiffusionDenoise: %v", err)
	}
	if out.Dim(1) != 4 {
		t.Fatalf("unexpected output channels %d", out.Dim(1))
	}

	bad, _ := NewTensor(make([]float32, 3*3), []int64{1, 3, 3})
	if _, err := e.DiffusionDenoise(context.Background(), bad, 7, x, true); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestEngine_RandomLatentFeedsZero(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphRandomAR: &fakeRunner{name: GraphRandomAR, fn: func(_ context.Context, in map[string]*Tensor) (map[string]*Tensor, error) {
			v, _ := ExtractFloat32(in["input"])
			if len(v) != 1 || v[0] != 0 {
				return nil, errors.New("expected constant 0.0 input")
			}
			out, _ := NewTensor([]float32{1, 2, 3, 4}, []int64{1, 4})
			return map[string]*Tensor{"latent": out}, nil
		}},
	})

	latent, err := e.RandomLatent(context.Background(), GraphRandomAR)
	if err != nil {
		t.Fatalf("RandomLatent: %v", err)
	}
	if latent.Dim(1) != 4 {
		t.Fatalf("unexpected latent shape %v", latent.Shape())
	}
}

func TestEngine_MelSpectrogramRejectsEmpty(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{})
	if _, err := e.MelSpectrogram(context.Background(), GraphMelAR, nil); err == nil {
		t.Fatal("expected error for empty waveform")
	}
}
