// Package testutil provides shared skip helpers and fixtures for tests.
//
// Each Require helper calls Skipf with a clear human-readable reason when the
// named prerequisite is absent, so integration tests remain runnable in
// partial environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    manifest := testutil.RequireManifest(t)
//	    ...
//	}
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-tortoise-tts/internal/audio"
	"github.com/example/go-tortoise-tts/internal/tts"
)

// DefaultManifest is where RequireManifest looks when TORTOISETTS_ONNX_MANIFEST
// is unset, relative to the working directory.
const DefaultManifest = "models/onnx/manifest.json"

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located and otherwise returns its path. It checks (in order): the
// ORT_LIBRARY_PATH env var, then the TORTOISETTS_ORT_LIB env var, then common
// system library paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "TORTOISETTS_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skipf("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or TORTOISETTS_ORT_LIB")
	return ""
}

// RequireManifest skips the test unless an exported graph manifest exists and
// returns its path.
func RequireManifest(tb testing.TB) string {
	tb.Helper()

	p := os.Getenv("TORTOISETTS_ONNX_MANIFEST")
	if p == "" {
		p = DefaultManifest
	}
	if _, err := os.Stat(p); err != nil {
		tb.Skipf("graph manifest not available at %q; set TORTOISETTS_ONNX_MANIFEST", p)
		return ""
	}
	return p
}

// RequireVoice skips the test if dir holds no voice named id.
func RequireVoice(tb testing.TB, dir, id string) tts.Voice {
	tb.Helper()

	vm, err := tts.NewVoiceManager(dir)
	if err != nil {
		tb.Skipf("voices directory not available at %q: %v", dir, err)
		return tts.Voice{}
	}

	v, err := vm.Voice(id)
	if err != nil {
		tb.Skipf("voice %q not available: %v", id, err)
		return tts.Voice{}
	}
	return v
}

// WriteToneWAV writes a mono 16-bit WAV of a 220 Hz tone to dir/name and
// returns the path. amplitude 0 gives silence.
func WriteToneWAV(tb testing.TB, dir, name string, sampleRate int, seconds, amplitude float64) string {
	tb.Helper()

	n := int(float64(sampleRate) * seconds)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}

	data, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		tb.Fatalf("encode wav: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		tb.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		tb.Fatalf("write wav: %v", err)
	}
	return p
}
