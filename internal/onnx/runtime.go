package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	goruntime "runtime"
	"sync"

	"github.com/example/go-tortoise-tts/internal/config"
)

// RuntimeInfo describes the ONNX Runtime shared library the process uses.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
	Initialized bool
}

// LibraryEnv names the variable Bootstrap exports so child processes and
// later config loads resolve the same library.
const LibraryEnv = "TORTOISETTS_ORT_LIB"

// Variables consulted after LibraryEnv, in order.
var libraryEnvFallbacks = []string{"ORT_LIBRARY_PATH", "ORT_DYLIB_PATH"}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

// process holds the once-per-process runtime resolution.
var process struct {
	mu   sync.Mutex
	done bool
	info RuntimeInfo
	err  error
}

// Bootstrap resolves the ORT library once per process. Later calls return
// the first result regardless of cfg.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	process.mu.Lock()
	defer process.mu.Unlock()

	if process.done {
		return process.info, process.err
	}
	process.done = true

	info, err := DetectRuntime(cfg)
	if err != nil {
		process.err = err
		return RuntimeInfo{}, err
	}
	if err := os.Setenv(LibraryEnv, info.LibraryPath); err != nil {
		process.err = fmt.Errorf("set %s: %w", LibraryEnv, err)
		return RuntimeInfo{}, process.err
	}

	info.Initialized = true
	process.info = info
	slog.Debug("onnx runtime resolved", "library", info.LibraryPath, "version", info.Version)
	return info, nil
}

// Shutdown releases the bootstrap so a later Bootstrap resolves again.
// Engines close their own sessions and backends.
func Shutdown() error {
	process.mu.Lock()
	defer process.mu.Unlock()

	process.done = false
	process.info = RuntimeInfo{}
	process.err = nil
	return nil
}

// DetectRuntime resolves the ORT shared library from config, then the
// environment, then the platform's usual install locations.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	path := cfg.ORTLibraryPath
	for _, env := range append([]string{LibraryEnv}, libraryEnvFallbacks...) {
		if path != "" {
			break
		}
		path = os.Getenv(env)
	}
	if path == "" {
		for _, c := range libraryCandidates(goruntime.GOOS) {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return RuntimeInfo{LibraryPath: "not found", Version: "unknown"},
			errors.New("unable to detect ONNX Runtime library; set --ort-lib or " + LibraryEnv)
	}
	if _, err := os.Stat(path); err != nil {
		return RuntimeInfo{LibraryPath: path, Version: "unknown"}, fmt.Errorf("onnx runtime library: %w", err)
	}

	version := cfg.ORTVersion
	if version == "" {
		version = os.Getenv("ORT_VERSION")
	}
	if version == "" {
		version = inferVersion(path)
	}
	if version == "" {
		version = "unknown"
	}

	return RuntimeInfo{LibraryPath: path, Version: version}, nil
}

func libraryCandidates(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{
			"C:/onnxruntime/lib/onnxruntime.dll",
			"C:/Program Files/onnxruntime/lib/onnxruntime.dll",
		}
	default:
		return []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
			"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
		}
	}
}

// inferVersion reads a version from the library file name, following a
// symlink such as libonnxruntime.so -> libonnxruntime.so.1.17.1.
func inferVersion(path string) string {
	if m := versionPattern.FindStringSubmatch(filepath.Base(path)); m != nil {
		return m[1]
	}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return ""
	}
	if m := versionPattern.FindStringSubmatch(filepath.Base(target)); m != nil {
		return m[1]
	}
	return ""
}
