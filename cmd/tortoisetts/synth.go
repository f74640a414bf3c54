package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/go-tortoise-tts/internal/audio"
	"github.com/example/go-tortoise-tts/internal/config"
	"github.com/example/go-tortoise-tts/internal/playback"
	textpkg "github.com/example/go-tortoise-tts/internal/text"
	"github.com/example/go-tortoise-tts/internal/tts"
)

// cliService is the part of tts.Service the CLI drives.
type cliService interface {
	Synthesize(ctx context.Context, in tts.Input) (*tts.Result, error)
	VoiceLatents(ctx context.Context, voice string, opts tts.LatentOptions, save bool) (*tts.ConditioningLatents, string, error)
	SwapGraph(name, path string) (string, error)
	OutputSampleRate() int
	Close()
}

var openService = func(cfg config.Config) (cliService, error) {
	return tts.NewService(cfg, nil)
}

var playAudio = playback.Play

type synthOptions struct {
	Text        string
	Voice       string
	Preset      string
	Seed        *int64
	Overrides   tts.Overrides
	LatentsPath string

	Chunk         bool
	DesiredLength int
	MaxLength     int

	Post audio.PostProcess
}

type synthOutput struct {
	Waveforms  [][]float32
	SampleRate int
	Seed       int64
	Candidates []tts.ScoredCandidate
}

func newSynthCmd() *cobra.Command {
	var (
		text            string
		out             string
		seed            int64
		play            bool
		fingerprintPath string
		checkPath       string
		swaps           []string
		opts            synthOptions
		ov              overrideFlags
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			opts.Text, err = readSynthText(text, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				opts.Seed = &seed
			}
			opts.Overrides = ov.overrides(cmd.Flags())
			if out == "-" && opts.Overrides.K != nil && *opts.Overrides.K > 1 {
				return errors.New("--k > 1 writes one file per candidate and cannot stream to stdout")
			}

			svc, err := openService(cfg)
			if err != nil {
				return fmt.Errorf("initialize synth service: %w", err)
			}
			defer svc.Close()

			if err := applySwaps(svc, swaps, cmd.ErrOrStderr()); err != nil {
				return err
			}

			start := time.Now()
			res, err := runSynth(cmd.Context(), svc, opts)
			if err != nil {
				return err
			}

			if fingerprintPath != "" || checkPath != "" {
				if err := handleFingerprints(res, fingerprintPath, checkPath); err != nil {
					return err
				}
			}

			paths, err := writeSynthOutputs(out, res, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			for i, p := range paths {
				reportWritten(cmd.ErrOrStderr(), p, res.Waveforms[i], res.SampleRate, time.Since(start))
			}
			slog.Info("synthesis complete", "seed", res.Seed, "outputs", len(paths), "elapsed", time.Since(start))

			if play {
				return playAudio(cmd.Context(), res.Waveforms[0], res.SampleRate)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	f.StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout); k > 1 appends _<n> per candidate")
	f.StringVar(&opts.Voice, "voice", "", "Voice from the voices directory, 'a&b' to combine, 'random' for random latents")
	f.StringVar(&opts.Preset, "preset", "", "Generation preset (overrides config)")
	f.StringVar(&opts.LatentsPath, "latents", "", "Conditioning latents file to use instead of --voice")
	f.Int64Var(&seed, "seed", 0, "Random seed (default: derived from the clock and reported)")
	f.BoolVar(&opts.Chunk, "chunk", false, "Split long text into sentence chunks and synthesize sequentially")
	f.IntVar(&opts.DesiredLength, "chunk-desired-chars", textpkg.DefaultDesiredLength, "Preferred characters per chunk when --chunk is enabled")
	f.IntVar(&opts.MaxLength, "chunk-max-chars", textpkg.DefaultMaxLength, "Maximum characters per chunk when --chunk is enabled")
	f.BoolVar(&opts.Post.Normalize, "normalize", false, "Peak-normalize output audio")
	f.BoolVar(&opts.Post.DCBlock, "dc-block", false, "Apply DC-block high-pass filter")
	f.Float64Var(&opts.Post.FadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	f.Float64Var(&opts.Post.FadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")
	f.BoolVar(&play, "play", false, "Play the best candidate after writing it")
	f.StringVar(&fingerprintPath, "fingerprint", "", "Write output fingerprints (sha256, peak, rms) as JSON")
	f.StringVar(&checkPath, "check-fingerprint", "", "Fail unless the output matches a saved fingerprint file")
	f.StringArrayVar(&swaps, "swap-graph", nil, "Replace a model graph before synthesis, name=path (repeatable)")
	ov.register(f)

	return cmd
}

// overrideFlags are the per-call generation knobs. Only flags the user set
// become overrides; the rest come from the preset.
type overrideFlags struct {
	k, numSamples, batchSize, maxMelTokens, diffusionIterations, breathingRoom int
	temperature, topP, repetitionPenalty, lengthPenalty, cvvpAmount            float64
	condFreeK, diffusionTemperature                                            float64
	condFree, condFreeRamp                                                     bool
	sampler                                                                    string
}

func (o *overrideFlags) register(f *pflag.FlagSet) {
	f.IntVar(&o.k, "k", 1, "Number of ranked candidates to return")
	f.IntVar(&o.numSamples, "num-autoregressive-samples", 0, "Autoregressive candidates to generate")
	f.IntVar(&o.batchSize, "batch-size", 0, "Autoregressive samples per batch")
	f.IntVar(&o.maxMelTokens, "max-mel-tokens", 0, "Upper bound on generated mel codes")
	f.IntVar(&o.diffusionIterations, "diffusion-iterations", 0, "Denoising steps")
	f.IntVar(&o.breathingRoom, "breathing-room", 0, "Codes kept after the first calm token")
	f.Float64Var(&o.temperature, "temperature", 0, "Autoregressive sampling temperature")
	f.Float64Var(&o.topP, "top-p", 0, "Nucleus sampling mass")
	f.Float64Var(&o.repetitionPenalty, "repetition-penalty", 0, "Penalty for repeated codes")
	f.Float64Var(&o.lengthPenalty, "length-penalty", 0, "Accepted for compatibility; ignored when sampling")
	f.Float64Var(&o.cvvpAmount, "cvvp-amount", 0, "Weight of the voice scorer in [0,1]")
	f.Float64Var(&o.condFreeK, "cond-free-k", 0, "Conditioning-free guidance strength")
	f.Float64Var(&o.diffusionTemperature, "diffusion-temperature", 0, "Scale of the initial diffusion noise")
	f.BoolVar(&o.condFree, "cond-free", true, "Enable conditioning-free guidance")
	f.BoolVar(&o.condFreeRamp, "cond-free-ramp", false, "Ramp guidance strength down over the denoising steps")
	f.StringVar(&o.sampler, "sampler", "", "Diffusion sampler (p|ddim)")
}

func (o *overrideFlags) overrides(f *pflag.FlagSet) tts.Overrides {
	var ov tts.Overrides
	setInt := func(name string, v int, dst **int) {
		if f.Changed(name) {
			*dst = &v
		}
	}
	setFloat := func(name string, v float64, dst **float64) {
		if f.Changed(name) {
			*dst = &v
		}
	}
	setBool := func(name string, v bool, dst **bool) {
		if f.Changed(name) {
			*dst = &v
		}
	}

	setInt("k", o.k, &ov.K)
	setInt("num-autoregressive-samples", o.numSamples, &ov.NumSamples)
	setInt("batch-size", o.batchSize, &ov.BatchSize)
	setInt("max-mel-tokens", o.maxMelTokens, &ov.MaxMelTokens)
	setInt("diffusion-iterations", o.diffusionIterations, &ov.DiffusionIterations)
	setInt("breathing-room", o.breathingRoom, &ov.BreathingRoom)
	setFloat("temperature", o.temperature, &ov.Temperature)
	setFloat("top-p", o.topP, &ov.TopP)
	setFloat("repetition-penalty", o.repetitionPenalty, &ov.RepetitionPenalty)
	setFloat("length-penalty", o.lengthPenalty, &ov.LengthPenalty)
	setFloat("cvvp-amount", o.cvvpAmount, &ov.CVVPAmount)
	setFloat("cond-free-k", o.condFreeK, &ov.ConditioningFreeK)
	setFloat("diffusion-temperature", o.diffusionTemperature, &ov.DiffusionTemperature)
	setBool("cond-free", o.condFree, &ov.ConditioningFree)
	setBool("cond-free-ramp", o.condFreeRamp, &ov.ConditioningFreeRamp)
	if f.Changed("sampler") {
		s := o.sampler
		ov.Sampler = &s
	}
	return ov
}

// runSynth synthesizes every chunk with one seed. With several chunks only
// the best candidate of each is kept and the results are concatenated.
func runSynth(ctx context.Context, svc cliService, opts synthOptions) (*synthOutput, error) {
	chunks, err := buildSynthesisChunks(opts.Text, opts.Chunk, opts.DesiredLength, opts.MaxLength)
	if err != nil {
		return nil, err
	}

	var latents *tts.ConditioningLatents
	if opts.LatentsPath != "" {
		latents, err = tts.LoadLatents(opts.LatentsPath)
		if err != nil {
			return nil, err
		}
	}

	seed := opts.Seed
	var results []*tts.Result
	for i, chunkText := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := svc.Synthesize(ctx, tts.Input{
			Text:      chunkText,
			Voice:     opts.Voice,
			Preset:    opts.Preset,
			Overrides: opts.Overrides,
			Seed:      seed,
			Latents:   latents,
		})
		if err != nil {
			if len(chunks) == 1 {
				return nil, err
			}
			return nil, fmt.Errorf("chunk %d/%d synthesis failed: %w", i+1, len(chunks), err)
		}
		if seed == nil {
			s := res.Seed
			seed = &s
		}
		slog.Debug("chunk synthesized", "chunk", i+1, "of", len(chunks), "chars", len(chunkText))
		results = append(results, res)
	}

	out := &synthOutput{SampleRate: svc.OutputSampleRate(), Seed: *seed}
	if len(results) == 1 {
		out.Waveforms = results[0].Waveforms
		out.Candidates = results[0].Candidates
	} else {
		best := make([][]float32, len(results))
		for i, r := range results {
			best[i] = r.Waveform()
		}
		out.Waveforms = [][]float32{audio.Concat(best...)}
	}
	if len(out.Waveforms) == 0 {
		return nil, errors.New("synthesis produced no audio")
	}

	hooks := opts.Post.Hooks(out.SampleRate)
	for i, w := range out.Waveforms {
		out.Waveforms[i] = audio.ApplyHooks(w, hooks...)
	}
	return out, nil
}

func buildSynthesisChunks(input string, chunk bool, desired, maxLen int) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty input text")
	}
	if !chunk {
		return []string{input}, nil
	}

	chunks := textpkg.SplitAndRecombine(input, desired, maxLen)
	if len(chunks) == 0 {
		return nil, errors.New("no non-empty chunks produced from input")
	}
	return chunks, nil
}

func applySwaps(svc cliService, swaps []string, w io.Writer) error {
	for _, item := range swaps {
		name, path, ok := strings.Cut(item, "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return fmt.Errorf("invalid --swap-graph %q: expected name=path", item)
		}
		sum, err := svc.SwapGraph(name, path)
		if err != nil {
			return fmt.Errorf("swap graph %q: %w", name, err)
		}
		_, _ = fmt.Fprintf(w, "swapped %s -> %s (sha256 %s)\n", name, path, sum)
	}
	return nil
}

func (o *synthOutput) fingerprints() []tts.Fingerprint {
	r := tts.Result{Waveforms: o.Waveforms, SampleRate: o.SampleRate, Seed: o.Seed, Candidates: o.Candidates}
	return r.Fingerprints()
}

func handleFingerprints(res *synthOutput, savePath, checkPath string) error {
	fps := res.fingerprints()
	if savePath != "" {
		if err := tts.SaveFingerprints(savePath, fps); err != nil {
			return err
		}
	}
	if checkPath != "" {
		want, err := tts.LoadFingerprints(checkPath)
		if err != nil {
			return err
		}
		if !tts.SamePCM(want, fps) {
			return fmt.Errorf("output does not match fingerprints in %s", checkPath)
		}
	}
	return nil
}

// outputPaths names one file per waveform: out itself for a single one,
// otherwise out with _<n> before the extension.
func outputPaths(out string, n int) []string {
	if n == 1 {
		return []string{out}
	}
	ext := filepath.Ext(out)
	stem := strings.TrimSuffix(out, ext)
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	return paths
}

func writeSynthOutputs(out string, res *synthOutput, stdout io.Writer) ([]string, error) {
	paths := outputPaths(out, len(res.Waveforms))
	for i, p := range paths {
		data, err := audio.EncodeWAV(res.Waveforms[i], res.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("encode WAV: %w", err)
		}
		if err := writeSynthOutput(p, data, stdout); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func reportWritten(w io.Writer, path string, samples []float32, rate int, elapsed time.Duration) {
	if path == "-" {
		return
	}
	size := uint64(0)
	if st, err := os.Stat(path); err == nil {
		size = uint64(st.Size())
	}
	_, _ = fmt.Fprintf(w, "wrote %s (%s, %s of audio, took %s)\n",
		path, humanize.Bytes(size), playback.Duration(len(samples), rate).Round(10*time.Millisecond), elapsed.Round(time.Second))
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", errors.New("either provide --text or pipe text on stdin")
	}
	return input, nil
}
