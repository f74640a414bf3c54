// Package doctor provides environment preflight checks for tortoisetts.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// MinRuntimeVersion is the oldest ONNX Runtime release whose API the graph
// runners target.
const MinRuntimeVersion = "1.17"

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RuntimeVersion returns the detected ONNX Runtime version.
	RuntimeVersion VersionFunc
	// MinRuntime overrides MinRuntimeVersion.
	MinRuntime string
	// MissingGraphs lists the required graphs absent from the manifest.
	MissingGraphs func() ([]string, error)
	// Tokenizer loads the text tokenizer and describes it.
	Tokenizer VersionFunc
	// VoicesDir is the voice library root; empty skips the check.
	VoicesDir string
	// PresetsFile is an optional presets YAML path to verify on disk.
	PresetsFile string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark. Nil check funcs are
// skipped.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- onnx runtime -----------------------------------------------------
	if cfg.RuntimeVersion != nil {
		minVer := cfg.MinRuntime
		if minVer == "" {
			minVer = MinRuntimeVersion
		}
		ver, err := cfg.RuntimeVersion()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		case ver == "":
			fmt.Fprintf(w, "%s onnx runtime: found (version unknown)\n", PassMark)
		default:
			if vErr := checkRuntimeVersion(ver, minVer); vErr != nil {
				res.fail(fmt.Sprintf("onnx runtime: %v", vErr))
				fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, vErr)
			} else {
				fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
			}
		}
	}

	// ---- graph manifest ---------------------------------------------------
	if cfg.MissingGraphs != nil {
		missing, err := cfg.MissingGraphs()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("graph manifest: %v", err))
			fmt.Fprintf(w, "%s graph manifest: %v\n", FailMark, err)
		case len(missing) > 0:
			res.fail(fmt.Sprintf("graph manifest: missing %s", strings.Join(missing, ", ")))
			fmt.Fprintf(w, "%s graph manifest: missing %s\n", FailMark, strings.Join(missing, ", "))
		default:
			fmt.Fprintf(w, "%s graph manifest: all required graphs present\n", PassMark)
		}
	}

	// ---- tokenizer --------------------------------------------------------
	if cfg.Tokenizer != nil {
		desc, err := cfg.Tokenizer()
		if err != nil {
			res.fail(fmt.Sprintf("tokenizer: %v", err))
			fmt.Fprintf(w, "%s tokenizer: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s tokenizer: %s\n", PassMark, desc)
		}
	}

	// ---- voices -----------------------------------------------------------
	if cfg.VoicesDir != "" {
		n, err := countVoices(cfg.VoicesDir)
		if err != nil {
			res.fail(fmt.Sprintf("voices dir %q: %v", cfg.VoicesDir, err))
			fmt.Fprintf(w, "%s voices dir %s: %v\n", FailMark, cfg.VoicesDir, err)
		} else {
			fmt.Fprintf(w, "%s voices dir: %s (%d voices)\n", PassMark, cfg.VoicesDir, n)
		}
	}

	if cfg.PresetsFile != "" {
		if _, err := os.Stat(cfg.PresetsFile); err != nil {
			res.fail(fmt.Sprintf("presets file %q: %v", cfg.PresetsFile, err))
			fmt.Fprintf(w, "%s presets file %s: not found\n", FailMark, cfg.PresetsFile)
		} else {
			fmt.Fprintf(w, "%s presets file: %s\n", PassMark, cfg.PresetsFile)
		}
	}

	return res
}

func countVoices(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n, nil
}

// checkRuntimeVersion returns an error if ver is older than minVer. Both are
// expected to look like "1.17" or "1.20.1".
func checkRuntimeVersion(ver, minVer string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	wantMajor, wantMinor, err := parseMajorMinor(minVer)
	if err != nil {
		return fmt.Errorf("cannot parse minimum %q: %w", minVer, err)
	}
	if major < wantMajor || (major == wantMajor && minor < wantMinor) {
		return fmt.Errorf("requires onnxruntime >=%s, got %d.%d", minVer, major, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(strings.TrimPrefix(ver, "v"), ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
