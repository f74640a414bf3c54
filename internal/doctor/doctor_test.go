package doctor_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-tortoise-tts/internal/doctor"
)

func passingConfig(t *testing.T) doctor.Config {
	t.Helper()
	voices := t.TempDir()
	for _, name := range []string{"emma", "tom"} {
		if err := os.Mkdir(filepath.Join(voices, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return doctor.Config{
		RuntimeVersion: func() (string, error) { return "1.20.1", nil },
		MissingGraphs:  func() ([]string, error) { return nil, nil },
		Tokenizer:      func() (string, error) { return "bpe (256 entries)", nil },
		VoicesDir:      voices,
	}
}

// ---------------------------------------------------------------------------
// all-pass scenario
// ---------------------------------------------------------------------------

func TestRun_AllChecksPass(t *testing.T) {
	var out strings.Builder
	result := doctor.Run(passingConfig(t), &out)

	if result.Failed() {
		t.Errorf("expected all checks to pass; failures: %v", result.Failures())
	}

	body := out.String()
	for _, want := range []string{"onnx runtime: 1.20.1", "all required graphs present", "bpe (256 entries)", "(2 voices)"} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q:\n%s", want, body)
		}
	}
}

func TestRun_NilChecksSkipped(t *testing.T) {
	var out strings.Builder
	result := doctor.Run(doctor.Config{}, &out)

	if result.Failed() || out.Len() != 0 {
		t.Fatalf("empty config: failures %v, output %q", result.Failures(), out.String())
	}
}

// ---------------------------------------------------------------------------
// onnx runtime
// ---------------------------------------------------------------------------

func TestRun_RuntimeMissingFails(t *testing.T) {
	cfg := passingConfig(t)
	cfg.RuntimeVersion = func() (string, error) { return "", errLibraryNotFound }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure when onnxruntime is not found")
	}
	if !hasFailureContaining(result.Failures(), "onnx runtime") {
		t.Errorf("expected failure mentioning onnx runtime, got: %v", result.Failures())
	}
}

func TestRun_RuntimeTooOldFails(t *testing.T) {
	cfg := passingConfig(t)
	cfg.RuntimeVersion = func() (string, error) { return "1.16.3", nil }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for onnxruntime 1.16 (< 1.17)")
	}
}

func TestRun_RuntimeVersionUnknownPasses(t *testing.T) {
	cfg := passingConfig(t)
	cfg.RuntimeVersion = func() (string, error) { return "", nil }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Fatalf("unexpected failures: %v", result.Failures())
	}
	if !strings.Contains(out.String(), "version unknown") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestRun_CustomMinimumRuntime(t *testing.T) {
	cfg := passingConfig(t)
	cfg.MinRuntime = "1.21"

	var out strings.Builder
	if result := doctor.Run(cfg, &out); !result.Failed() {
		t.Fatal("expected 1.20.1 to fail a 1.21 minimum")
	}
}

// ---------------------------------------------------------------------------
// manifest, tokenizer, voices
// ---------------------------------------------------------------------------

func TestRun_MissingGraphsFail(t *testing.T) {
	cfg := passingConfig(t)
	cfg.MissingGraphs = func() ([]string, error) { return []string{"clvp", "vocoder"}, nil }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "missing clvp, vocoder") {
		t.Fatalf("failures: %v", result.Failures())
	}
}

func TestRun_ManifestUnreadableFails(t *testing.T) {
	cfg := passingConfig(t)
	cfg.MissingGraphs = func() ([]string, error) { return nil, sentinelError("no such manifest") }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "graph manifest") {
		t.Fatalf("failures: %v", result.Failures())
	}
}

func TestRun_TokenizerFails(t *testing.T) {
	cfg := passingConfig(t)
	cfg.Tokenizer = func() (string, error) { return "", sentinelError("bad vocab") }

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "tokenizer") {
		t.Errorf("expected failure mentioning tokenizer, got: %v", result.Failures())
	}
}

func TestRun_MissingVoicesDirFails(t *testing.T) {
	cfg := passingConfig(t)
	cfg.VoicesDir = "/nonexistent/voices"

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "voices") {
		t.Errorf("expected failure mentioning voices, got: %v", result.Failures())
	}
}

func TestRun_PresetsFile(t *testing.T) {
	cfg := passingConfig(t)
	cfg.PresetsFile = "doctor_test.go"

	var out strings.Builder
	if result := doctor.Run(cfg, &out); result.Failed() {
		t.Fatalf("unexpected failures: %v", result.Failures())
	}

	cfg.PresetsFile = "/nonexistent/presets.yaml"
	if result := doctor.Run(cfg, &out); !hasFailureContaining(result.Failures(), "presets") {
		t.Fatalf("failures: %v", result.Failures())
	}
}

// ---------------------------------------------------------------------------
// colour-coded output
// ---------------------------------------------------------------------------

func TestRun_OutputContainsPassAndFailMarkers(t *testing.T) {
	cfg := passingConfig(t)
	cfg.RuntimeVersion = func() (string, error) { return "", errLibraryNotFound }

	var out strings.Builder
	doctor.Run(cfg, &out)

	body := out.String()
	if !strings.Contains(body, doctor.PassMark) {
		t.Errorf("output missing pass marker %q:\n%s", doctor.PassMark, body)
	}
	if !strings.Contains(body, doctor.FailMark) {
		t.Errorf("output missing fail marker %q:\n%s", doctor.FailMark, body)
	}
}

func TestResult_AddFailure(t *testing.T) {
	var r doctor.Result
	r.AddFailure("external")
	failures := r.Failures()
	failures[0] = "mutated"

	if !r.Failed() || r.Failures()[0] != "external" {
		t.Fatalf("failures %v", r.Failures())
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

var errLibraryNotFound = sentinelError("library not found")

func hasFailureContaining(failures []string, substr string) bool {
	substr = strings.ToLower(substr)
	for _, f := range failures {
		if strings.Contains(strings.ToLower(f), substr) {
			return true
		}
	}

	return false
}
