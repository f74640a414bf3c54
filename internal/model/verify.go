// Package model checks the ONNX graph bundle the pipeline runs on: required
// graphs, zero-input smoke runs and content hashes.
package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/example/go-tortoise-tts/internal/onnx"
)

type VerifyOptions struct {
	ManifestPath  string
	ORTLibrary    string
	ORTAPIVersion uint32
	// LockPath, when set, compares graph hashes against a lock written by
	// WriteLock.
	LockPath string
	// Required lists graphs that must be present; nil means onnx.CoreGraphs.
	Required []string
	Stdout   io.Writer
	Stderr   io.Writer
}

var runNativeVerify = runNativeVerifyImpl

// VerifyONNX validates the manifest, checks required graphs and smoke runs
// every graph with zero inputs.
func VerifyONNX(opts VerifyOptions) error {
	if opts.ManifestPath == "" {
		return errors.New("manifest path is required")
	}
	if opts.ORTAPIVersion == 0 {
		opts.ORTAPIVersion = 23
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Required == nil {
		opts.Required = onnx.CoreGraphs
	}

	sm, err := onnx.NewSessionManager(opts.ManifestPath)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	if missing := sm.Missing(opts.Required...); len(missing) > 0 {
		return fmt.Errorf("manifest lacks required graph(s): %s", strings.Join(missing, ", "))
	}

	pinned, mismatched, err := CheckPinned(sm.Sessions())
	if err != nil {
		return err
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("graph(s) differ from manifest digest: %s", strings.Join(mismatched, ", "))
	}
	if pinned > 0 {
		_, _ = fmt.Fprintf(opts.Stdout, "PINNED %d graph(s) match\n", pinned)
	}

	for _, session := range sm.Sessions() {
		for _, input := range session.Inputs {
			if _, err := onnx.NewZeroTensor(input.DType, input.Shape); err != nil {
				return fmt.Errorf("session %q input %q invalid: %w", session.Name, input.Name, err)
			}
		}
	}

	if opts.LockPath != "" {
		locked, err := ReadLock(opts.LockPath)
		if err != nil {
			return err
		}
		current, err := HashGraphs(opts.ManifestPath)
		if err != nil {
			return err
		}
		if diff := CompareDigests(locked, current); len(diff) > 0 {
			return fmt.Errorf("graph(s) differ from %s: %s", opts.LockPath, strings.Join(diff, ", "))
		}
		_, _ = fmt.Fprintf(opts.Stdout, "LOCK %d graph(s) match\n", len(current))
	}

	return runNativeVerify(sm.Sessions(), opts)
}

func runNativeVerifyImpl(sessions []onnx.Session, opts VerifyOptions) error {
	backend, err := onnx.NewBackend(onnx.RunnerConfig{LibraryPath: opts.ORTLibrary, APIVersion: opts.ORTAPIVersion})
	if err != nil {
		return fmt.Errorf("initialize ONNX Runtime (lib=%q api=%d): %w", opts.ORTLibrary, opts.ORTAPIVersion, err)
	}
	defer backend.Close()

	var failures []string
	for _, session := range sessions {
		if err := runSessionSmoke(context.Background(), backend, session); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: %v\n", session.Name, err)
			failures = append(failures, session.Name)
			continue
		}
		_, _ = fmt.Fprintf(opts.Stdout, "PASS %s\n", session.Name)
	}

	if len(failures) > 0 {
		return fmt.Errorf("verify failed for %d session(s): %s", len(failures), strings.Join(failures, ", "))
	}
	return nil
}

func runSessionSmoke(ctx context.Context, backend *onnx.Backend, session onnx.Session) error {
	r, err := onnx.NewRunner(backend, session)
	if err != nil {
		return err
	}
	defer r.Close()

	inputs := make(map[string]*onnx.Tensor, len(session.Inputs))
	for _, input := range session.Inputs {
		t, err := onnx.NewZeroTensor(input.DType, input.Shape)
		if err != nil {
			return fmt.Errorf("build input %q tensor: %w", input.Name, err)
		}
		inputs[input.Name] = t
	}

	if _, err := r.Run(ctx, inputs); err != nil {
		return fmt.Errorf("run inference: %w", err)
	}
	return nil
}
