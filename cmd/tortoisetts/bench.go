package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-tortoise-tts/internal/bench"
	"github.com/example/go-tortoise-tts/internal/config"
	"github.com/example/go-tortoise-tts/internal/tts"
)

var openBenchService = func(cfg config.Config, onStage func(string, time.Duration)) (cliService, error) {
	return tts.NewService(cfg, onStage)
}

func newBenchCmd() *cobra.Command {
	var (
		text         string
		voice        string
		preset       string
		runs         int
		seed         int64
		format       string
		rtfThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark synthesis latency, realtime factor and per-stage cost",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("--text is required for bench")
			}
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			var rec bench.StageRecorder
			svc, err := openBenchService(cfg, rec.Observe)
			if err != nil {
				return err
			}
			defer svc.Close()

			results, err := runBench(cmd.Context(), svc, &rec, tts.Input{
				Text:   text,
				Voice:  voice,
				Preset: preset,
				Seed:   &seed,
			}, runs)
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.Durations(results))
			if err := writeBenchReport(cmd.OutOrStdout(), format, results, stats); err != nil {
				return err
			}

			return bench.CheckRTFThreshold(bench.MeanRTF(results), rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize for each run (required)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice (overrides config)")
	cmd.Flags().StringVar(&preset, "preset", "", "Preset (overrides config)")
	cmd.Flags().IntVar(&runs, "runs", 3, "Number of synthesis runs")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed shared by every run")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")

	return cmd
}

func runBench(ctx context.Context, svc cliService, rec *bench.StageRecorder, in tts.Input, runs int) ([]bench.RunResult, error) {
	results := make([]bench.RunResult, 0, runs)

	for i := range runs {
		rec.Take()

		start := time.Now()
		res, err := svc.Synthesize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("run %d failed: %w", i+1, err)
		}
		dur := time.Since(start)

		audioDur := bench.AudioDuration(len(res.Waveform()), res.SampleRate)
		results = append(results, bench.RunResult{
			Index:         i,
			Cold:          i == 0,
			Duration:      dur,
			AudioDuration: audioDur,
			RTF:           bench.CalcRTF(dur, audioDur),
			Stages:        rec.Take(),
		})

		slog.Debug("bench run", "run", i+1, "duration_ms", dur.Milliseconds(), "audio_ms", audioDur.Milliseconds())
	}

	return results, nil
}

func writeBenchReport(w io.Writer, format string, runs []bench.RunResult, stats bench.Stats) error {
	if format == "json" {
		return bench.FormatJSON(runs, stats, w)
	}
	bench.FormatTable(runs, stats, w)
	return nil
}
