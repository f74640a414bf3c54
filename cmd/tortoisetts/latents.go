package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-tortoise-tts/internal/tts"
)

func newLatentsCmd() *cobra.Command {
	var (
		voice  string
		opts   tts.LatentOptions
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "latents",
		Short: "Compute a voice's conditioning latents and cache them in its directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if voice == "" {
				voice = cfg.TTS.Voice
			}

			svc, err := openService(cfg)
			if err != nil {
				return fmt.Errorf("initialize synth service: %w", err)
			}
			defer svc.Close()

			latents, path, err := svc.VoiceLatents(cmd.Context(), voice, opts, !dryRun)
			if err != nil {
				return fmt.Errorf("voice %q: %w", voice, err)
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "voice %s: autoregressive latent %d values, diffusion latent %d values\n",
				voice, len(latents.Autoregressive), len(latents.Diffusion))
			if path != "" {
				_, _ = fmt.Fprintf(w, "saved %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&voice, "voice", "", "Voice to condition on (default: configured voice)")
	cmd.Flags().IntVar(&opts.Slices, "slices", 1, "Chunks the concatenated clips are split into for the diffusion latent")
	cmd.Flags().IntVar(&opts.MaxChunkSize, "max-chunk-size", 0, "Raise --slices until every chunk is at most this many samples (0 disables)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Seed for the random crop of long clips")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute without writing the cache")

	return cmd
}
