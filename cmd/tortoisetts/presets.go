package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/go-tortoise-tts/internal/tts"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List generation presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			presets, err := tts.LoadPresets(cfg.Paths.PresetsFile)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tSAMPLES\tDIFFUSION STEPS\tCOND FREE")
			for _, p := range presets.List() {
				condFree := "default"
				if p.ConditioningFree != nil {
					condFree = strconv.FormatBool(*p.ConditioningFree)
				}
				marker := ""
				if p.Name == cfg.TTS.Preset {
					marker = " *"
				}
				_, _ = fmt.Fprintf(tw, "%s%s\t%d\t%d\t%s\n", p.Name, marker, p.NumSamples, p.DiffusionIterations, condFree)
			}
			return tw.Flush()
		},
	}
}

func newVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List voices in the voices directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			vm, err := tts.NewVoiceManager(cfg.Paths.VoicesDir)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "VOICE\tCLIPS\tCACHED LATENTS")
			_, _ = fmt.Fprintf(tw, "%s\t-\tgenerated\n", tts.RandomVoice)
			for _, v := range vm.ListVoices() {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%t\n", v.ID, len(v.Clips), v.Latents != "")
			}
			return tw.Flush()
		},
	}
}
