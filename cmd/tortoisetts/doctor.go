package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/example/go-tortoise-tts/internal/config"
	"github.com/example/go-tortoise-tts/internal/doctor"
	"github.com/example/go-tortoise-tts/internal/model"
	"github.com/example/go-tortoise-tts/internal/onnx"
	"github.com/example/go-tortoise-tts/internal/tokenizer"
	"github.com/example/go-tortoise-tts/internal/tts"
)

func newDoctorCmd() *cobra.Command {
	var smoke bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return runDoctor(cfg, smoke, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&smoke, "smoke", false, "Also run every graph once with zero inputs")

	return cmd
}

func runDoctor(cfg config.Config, smoke bool, stdout, stderr io.Writer) error {
	result := doctor.Run(doctorConfig(cfg), stdout)

	if cfg.Paths.VoicesDir != "" {
		if _, err := tts.NewVoiceManager(cfg.Paths.VoicesDir); err != nil {
			result.AddFailure(fmt.Sprintf("voices: %v", err))
			_, _ = fmt.Fprintf(stdout, "%s voices: %v\n", doctor.FailMark, err)
		}
	}

	if smoke {
		err := model.VerifyONNX(model.VerifyOptions{
			ManifestPath:  cfg.Paths.ONNXManifest,
			ORTLibrary:    ortLibrary(cfg),
			ORTAPIVersion: uint32(cfg.Runtime.ORTAPIVersion),
			Stdout:        stdout,
			Stderr:        stderr,
		})
		if err != nil {
			result.AddFailure(fmt.Sprintf("model verify: %v", err))
			_, _ = fmt.Fprintf(stdout, "%s model verify: %v\n", doctor.FailMark, err)
		} else {
			_, _ = fmt.Fprintf(stdout, "%s model verify: ok\n", doctor.PassMark)
		}
	}

	if result.Failed() {
		for _, f := range result.Failures() {
			// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
			_, _ = fmt.Fprintf(stderr, "FAIL: %s\n", f)
		}

		return errors.New("doctor checks failed")
	}

	_, _ = fmt.Fprintln(stdout, "doctor checks passed")

	return nil
}

func doctorConfig(cfg config.Config) doctor.Config {
	return doctor.Config{
		RuntimeVersion: func() (string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			if err != nil {
				return "", err
			}
			if info.Version == "unknown" {
				return "", nil
			}
			return info.Version, nil
		},
		MissingGraphs: func() ([]string, error) {
			sm, err := onnx.NewSessionManager(cfg.Paths.ONNXManifest)
			if err != nil {
				return nil, err
			}
			return sm.Missing(onnx.CoreGraphs...), nil
		},
		Tokenizer: func() (string, error) {
			tok, err := tokenizer.Open(cfg.TTS.Tokenizer, cfg.Paths.TokenizerModel)
			if err != nil {
				return "", err
			}
			desc := fmt.Sprintf("%s (%s)", cfg.TTS.Tokenizer, cfg.Paths.TokenizerModel)
			if v, ok := tok.(interface{ VocabSize() int }); ok {
				desc += fmt.Sprintf(", %d tokens", v.VocabSize())
			}
			return desc, nil
		},
		VoicesDir:   cfg.Paths.VoicesDir,
		PresetsFile: cfg.Paths.PresetsFile,
	}
}
