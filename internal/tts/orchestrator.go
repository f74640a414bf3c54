// Package tts drives the multi-stage synthesis pipeline: conditioning
// latents, autoregressive candidate sampling, candidate ranking, latent
// reprojection, diffusion decoding, vocoding and redaction.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/example/go-tortoise-tts/internal/align"
	"github.com/example/go-tortoise-tts/internal/diffusion"
	"github.com/example/go-tortoise-tts/internal/onnx"
	"github.com/example/go-tortoise-tts/internal/tokenizer"
)

// Options configure an Orchestrator.
type Options struct {
	Models    Models
	Tokenizer tokenizer.Tokenizer

	InputSampleRate  int
	OutputSampleRate int

	Redaction     bool
	RedactionMode string
	// ReclaimMemory returns freed memory to the OS after every call.
	ReclaimMemory bool
	// Workers bounds per-clip feature extraction.
	Workers int

	// OnStage observes the duration of every pipeline stage.
	OnStage func(stage string, d time.Duration)
}

// Orchestrator runs one synthesis call at a time.
type Orchestrator struct {
	models Models
	tok    tokenizer.Tokenizer
	opts   Options

	mu sync.Mutex

	cancelMu sync.Mutex
	cancel   context.CancelCauseFunc

	randomMu sync.Mutex
	random   *ConditioningLatents
}

// New validates opts and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.Models.validate(); err != nil {
		return nil, err
	}
	if opts.Tokenizer == nil {
		return nil, errors.New("tts: tokenizer is required")
	}
	if opts.InputSampleRate < 1 || opts.OutputSampleRate < 1 {
		return nil, fmt.Errorf("tts: invalid sample rates %d -> %d", opts.InputSampleRate, opts.OutputSampleRate)
	}
	if opts.Redaction && opts.Models.Redactor == nil {
		slog.Warn("redaction requested but no aligner is available; bracketed text will be spoken")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	return &Orchestrator{models: opts.Models, tok: opts.Tokenizer, opts: opts}, nil
}

// Request is one synthesis call.
type Request struct {
	Text string
	// Clips are reference recordings at the input sample rate. They take
	// precedence over Latents. With neither, random latents are used.
	Clips   [][]float32
	Latents *ConditioningLatents

	Settings Settings
	// Seed fixes every random source. Nil picks one from the wall clock.
	Seed *int64

	Slices       int
	MaxChunkSize int
}

// Result holds the k best waveforms, best first.
type Result struct {
	Waveforms  [][]float32
	SampleRate int
	Seed       int64
	Text       string
	// Latents are the conditioning latents the call used.
	Latents    *ConditioningLatents
	Candidates []ScoredCandidate
}

// Waveform returns the best waveform.
func (r *Result) Waveform() []float32 {
	if len(r.Waveforms) == 0 {
		return nil
	}
	return r.Waveforms[0]
}

// Stop aborts the call in flight, if any. The aborted call returns an error
// wrapping ErrKilled. It reports whether a call was running.
func (o *Orchestrator) Stop() bool {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()

	if o.cancel == nil {
		return false
	}
	o.cancel(ErrKilled)
	return true
}

// begin derives the per-call context Stop cancels.
func (o *Orchestrator) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	o.cancelMu.Lock()
	o.cancel = cancel
	o.cancelMu.Unlock()

	return ctx, func() {
		o.cancelMu.Lock()
		o.cancel = nil
		o.cancelMu.Unlock()
		cancel(nil)

		if o.opts.ReclaimMemory {
			debug.FreeOSMemory()
		}
	}
}

// checkpoint reports a kill or cancellation between units of work.
func checkpoint(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); errors.Is(cause, ErrKilled) {
		return ErrKilled
	}
	return ctx.Err()
}

// killed marks err as a kill when Stop aborted the call, whatever layer
// observed the cancellation first.
func killed(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrKilled) || !errors.Is(context.Cause(ctx), ErrKilled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrKilled, err)
}

// stage acquires graphs, runs fn and releases them again.
func (o *Orchestrator) stage(name string, graphs []string, fn func() error) error {
	start := time.Now()

	if r := o.models.Residency; r != nil {
		for i, g := range graphs {
			if err := r.Acquire(g); err != nil {
				r.Release(graphs[:i]...)
				return fmt.Errorf("load %s: %w", g, err)
			}
		}
		defer r.Release(graphs...)
	}

	err := fn()

	elapsed := time.Since(start)
	slog.Debug("stage done", "stage", name, "ms", elapsed.Milliseconds(), "ok", err == nil)
	if o.opts.OnStage != nil {
		o.opts.OnStage(name, elapsed)
	}
	return err
}

// EncodeText tokenizes text, appends the padding token and enforces the
// length limit.
func (o *Orchestrator) EncodeText(text string) ([]int64, error) {
	tokens, err := o.tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	tokens = append(tokens, 0)
	if len(tokens) >= MaxTextTokens {
		return nil, fmt.Errorf("%w (%d tokens, limit %d)", ErrTextTooLong, len(tokens), MaxTextTokens)
	}
	return tokens, nil
}

func (o *Orchestrator) startToken() int64 {
	if o.models.StartToken != 0 {
		return o.models.StartToken
	}
	return onnx.DefaultStartMelToken
}

func (o *Orchestrator) stopToken() int64 {
	if o.models.StopToken != 0 {
		return o.models.StopToken
	}
	return onnx.DefaultStopMelToken
}

// Synthesize runs the whole pipeline for req.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, done := o.begin(ctx)
	defer done()

	res, err := o.synthesize(ctx, req)
	return res, killed(ctx, err)
}

func (o *Orchestrator) synthesize(ctx context.Context, req Request) (*Result, error) {
	s := req.Settings
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	seed := time.Now().Unix()
	if req.Seed != nil {
		seed = *req.Seed
	}
	cropRNG, arRNG, diffRNG := streams(seed)

	text, err := o.EncodeText(req.Text)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	slog.Info("synthesis started", "seed", seed, "text_tokens", len(text), "samples", s.NumSamples, "k", s.K, "diffusion_iterations", s.DiffusionIterations)

	latents, err := o.resolveLatents(ctx, req, cropRNG)
	if err != nil {
		return nil, err
	}

	var batches []CandidateBatch
	err = o.stage("generate", []string{onnx.GraphARLogits}, func() error {
		var err error
		batches, err = o.generate(ctx, latents.Autoregressive, text, s, arRNG)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	rankGraphs := []string{onnx.GraphCLVP}
	if s.CVVPAmount > 0 && len(latents.ClipMels) > 0 && o.models.VoiceScorer != nil {
		rankGraphs = append(rankGraphs, onnx.GraphCVVP)
	}
	var winners []ScoredCandidate
	err = o.stage("rank", rankGraphs, func() error {
		var err error
		winners, err = o.rank(ctx, batches, text, latents, s.CVVPAmount, s.K)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}

	var (
		hidden [][]float32
		dim    int
	)
	err = o.stage("reproject", []string{onnx.GraphARLatents}, func() error {
		var err error
		hidden, dim, err = o.reproject(ctx, latents.Autoregressive, text, winners)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reproject: %w", err)
	}

	sched, err := diffusion.NewSchedule(s.DiffusionIterations)
	if err != nil {
		return nil, err
	}

	waves := make([][]float32, len(winners))
	err = o.stage("decode", []string{onnx.GraphDiffusionEmbeddings, onnx.GraphDiffusionDenoise, onnx.GraphVocoder}, func() error {
		for i, w := range winners {
			mel, frames, err := o.decode(ctx, w.Codes, hidden[i], dim, latents.Diffusion, sched, s, diffRNG)
			if err != nil {
				return fmt.Errorf("candidate %d: %w", w.Index, err)
			}
			wav, err := o.models.Vocoder.Vocode(ctx, mel, diffusion.MelChannels, frames)
			if err != nil {
				return fmt.Errorf("vocode candidate %d: %w", w.Index, err)
			}
			waves[i] = wav
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if o.opts.Redaction && o.models.Redactor != nil && align.HasRedactions(req.Text) {
		err = o.stage("redact", []string{onnx.GraphAligner}, func() error {
			for i := range waves {
				out, err := o.models.Redactor.Redact(ctx, waves[i], o.opts.OutputSampleRate, req.Text, o.opts.RedactionMode)
				if err != nil {
					return err
				}
				waves[i] = out
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("redact: %w", err)
		}
	}

	slog.Info("synthesis done", "seed", seed, "waveforms", len(waves), "ms", time.Since(start).Milliseconds())

	return &Result{
		Waveforms:  waves,
		SampleRate: o.opts.OutputSampleRate,
		Seed:       seed,
		Text:       req.Text,
		Latents:    latents,
		Candidates: winners,
	}, nil
}

// streams derives the crop, generation and diffusion generators from seed.
// Each gets its own sub-seed so their draws are independent.
func streams(seed int64) (crop, ar, diff *rand.Rand) {
	master := rand.New(rand.NewSource(seed))
	crop = rand.New(rand.NewSource(master.Int63()))
	ar = rand.New(rand.NewSource(master.Int63()))
	diff = rand.New(rand.NewSource(master.Int63()))
	return crop, ar, diff
}

// resolveLatents picks clips over supplied latents over random latents.
func (o *Orchestrator) resolveLatents(ctx context.Context, req Request, rng *rand.Rand) (*ConditioningLatents, error) {
	switch {
	case len(req.Clips) > 0:
		return o.computeLatents(ctx, req.Clips, req.Slices, req.MaxChunkSize, rng)
	case req.Latents != nil:
		if len(req.Latents.Autoregressive) == 0 || len(req.Latents.Diffusion) == 0 {
			return nil, fmt.Errorf("%w: supplied latents are empty", ErrNoVoice)
		}
		return req.Latents, nil
	default:
		var l *ConditioningLatents
		err := o.stage("random_latents", []string{onnx.GraphRandomAR, onnx.GraphRandomDiffusion}, func() error {
			var err error
			l, err = o.randomLatents(ctx)
			return err
		})
		return l, err
	}
}
