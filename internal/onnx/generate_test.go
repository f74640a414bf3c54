package onnx

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

// scriptedLogits returns a logits runner that makes row r emit stop after
// stopAfter[r] tokens. Until then the most likely token is 10+step.
func scriptedLogits(vocab int, stop int64, stopAfter []int, calls *int) *fakeRunner {
	return &fakeRunner{
		name: GraphARLogits,
		fn: func(_ context.Context, in map[string]*Tensor) (map[string]*Tensor, error) {
			*calls++
			mel := in["mel_tokens"]
			batch, prefix := mel.Dim(0), mel.Dim(1)
			step := prefix - 1

			data := make([]float32, batch*vocab)
			for r := 0; r < batch; r++ {
				row := data[r*vocab : (r+1)*vocab]
				for i := range row {
					row[i] = -100
				}
				if step >= stopAfter[r] {
					row[stop] = 100
				} else {
					row[10+step] = 100
				}
			}
			out, err := NewTensor(data, []int64{int64(batch), int64(vocab)})
			if err != nil {
				return nil, err
			}
			return map[string]*Tensor{"logits": out}, nil
		},
	}
}

func testSampling(maxTokens int) SamplingConfig {
	return SamplingConfig{
		Temperature:       0.8,
		TopP:              0.8,
		RepetitionPenalty: 2,
		MaxMelTokens:      maxTokens,
		StartToken:        0,
		StopToken:         1,
	}
}

func TestSampleCodes_PadsFinishedRowsWithStop(t *testing.T) {
	calls := 0
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphARLogits: scriptedLogits(64, 1, []int{2, 4}, &calls),
	})

	codes, err := e.SampleCodes(context.Background(), []float32{0.1, 0.2}, []int64{5, 6, 0}, 2, testSampling(20), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("SampleCodes: %v", err)
	}

	want := [][]int64{
		{10, 11, 1, 1, 1},
		{10, 11, 12, 13, 1},
	}
	for r := range want {
		if len(codes[r]) != len(want[r]) {
			t.Fatalf("row %d: got %v, want %v", r, codes[r], want[r])
		}
		for i := range want[r] {
			if codes[r][i] != want[r][i] {
				t.Fatalf("row %d: got %v, want %v", r, codes[r], want[r])
			}
		}
	}
	if calls != 5 {
		t.Fatalf("expected generation to stop once every row finished (5 calls), got %d", calls)
	}
}

func TestSampleCodes_StopsAtMaxTokens(t *testing.T) {
	calls := 0
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphARLogits: scriptedLogits(64, 1, []int{100}, &calls),
	})

	codes, err := e.SampleCodes(context.Background(), []float32{1}, []int64{5}, 1, testSampling(6), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("SampleCodes: %v", err)
	}
	if len(codes[0]) != 6 {
		t.Fatalf("expected 6 codes, got %v", codes[0])
	}
}

func TestSampleCodes_ContextCancelled(t *testing.T) {
	calls := 0
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphARLogits: scriptedLogits(64, 1, []int{100}, &calls),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.SampleCodes(ctx, []float32{1}, []int64{5}, 1, testSampling(6), rand.New(rand.NewSource(3)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("no graph call expected after cancellation, got %d", calls)
	}
}

func TestSampleCodes_Validation(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{})
	rng := rand.New(rand.NewSource(1))

	cases := map[string]func() error{
		"empty text": func() error {
			_, err := e.SampleCodes(context.Background(), []float32{1}, nil, 1, testSampling(4), rng)
			return err
		},
		"zero batch": func() error {
			_, err := e.SampleCodes(context.Background(), []float32{1}, []int64{1}, 0, testSampling(4), rng)
			return err
		},
		"nil rng": func() error {
			_, err := e.SampleCodes(context.Background(), []float32{1}, []int64{1}, 1, testSampling(4), nil)
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			if fn() == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestForcedLatents(t *testing.T) {
	e := engineWithFakeRunners(map[string]GraphRunner{
		GraphARLatents: &fakeRunner{name: GraphARLatents, fn: func(_ context.Context, in map[string]*Tensor) (map[string]*Tensor, error) {
			codes := in["mel_codes"]
			b, m := codes.Dim(0), codes.Dim(1)
			data := make([]float32, b*m*3)
			for i := range data {
				data[i] = float32(i)
			}
			out, _ := NewTensor(data, []int64{int64(b), int64(m), 3})
			return map[string]*Tensor{"latents": out}, nil
		}},
	})

	rows, dim, err := e.ForcedLatents(context.Background(), []float32{1, 2}, []int64{4, 5}, [][]int64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("ForcedLatents: %v", err)
	}
	if dim != 3 || len(rows) != 2 || len(rows[1]) != 6 {
		t.Fatalf("unexpected latents: dim=%d rows=%v", dim, rows)
	}
	if rows[1][0] != 6 {
		t.Fatalf("second row should start at element 6, got %v", rows[1][0])
	}
}
