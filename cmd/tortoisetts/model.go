package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/example/go-tortoise-tts/internal/config"
	"github.com/example/go-tortoise-tts/internal/model"
	"github.com/example/go-tortoise-tts/internal/onnx"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Model bundle verification and hashing commands",
	}

	cmd.AddCommand(newModelVerifyCmd())
	cmd.AddCommand(newModelHashCmd())
	return cmd
}

func newModelVerifyCmd() *cobra.Command {
	var (
		manifestPath string
		lockPath     string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check required graphs and smoke run every graph in the manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if manifestPath == "" {
				manifestPath = cfg.Paths.ONNXManifest
			}

			err = model.VerifyONNX(model.VerifyOptions{
				ManifestPath:  manifestPath,
				ORTLibrary:    ortLibrary(cfg),
				ORTAPIVersion: uint32(cfg.Runtime.ORTAPIVersion),
				LockPath:      lockPath,
				Stdout:        cmd.OutOrStdout(),
				Stderr:        cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("model verify failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the ONNX manifest (default: configured manifest)")
	cmd.Flags().StringVar(&lockPath, "lock", "", "Compare graph hashes against a lock file written by 'model hash'")

	return cmd
}

func newModelHashCmd() *cobra.Command {
	var (
		manifestPath string
		lockPath     string
	)

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print SHA-256 digests of every graph file, optionally writing a lock file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if manifestPath == "" {
				manifestPath = cfg.Paths.ONNXManifest
			}

			digests, err := model.HashGraphs(manifestPath)
			if err != nil {
				return err
			}
			for _, d := range digests {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s)\n", d.SHA256, d.Name, humanize.Bytes(uint64(d.Bytes)))
			}
			if lockPath != "" {
				if err := model.WriteLock(lockPath, digests); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", lockPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the ONNX manifest (default: configured manifest)")
	cmd.Flags().StringVar(&lockPath, "lock", "", "Write the digests to this lock file")

	return cmd
}

// ortLibrary returns the detected ORT library, or the configured path when
// detection fails so the verify error names it.
func ortLibrary(cfg config.Config) string {
	info, err := onnx.DetectRuntime(cfg.Runtime)
	if err != nil {
		return cfg.Runtime.ORTLibraryPath
	}
	return info.LibraryPath
}
