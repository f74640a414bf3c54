package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// GraphRunner is the minimal runner contract required by Engine methods.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// Loader opens the runner for a named graph.
type Loader func(name string) (GraphRunner, error)

// Engine runs the model graphs of the pipeline. Runners are opened on first
// use and stay resident until released; with preload every graph is opened
// up front and Release is a no-op.
type Engine struct {
	mu      sync.Mutex
	runners map[string]GraphRunner
	known   map[string]bool
	loader  Loader
	preload bool
	backend *Backend

	// overrides maps graph names to replacement model files.
	overrides map[string]string
}

// EngineOptions configures NewEngine.
type EngineOptions struct {
	ManifestPath string
	Runner       RunnerConfig
	Preload      bool
}

// NewEngine indexes the manifest and prepares an ORT backend. Sessions are
// opened lazily unless opts.Preload is set.
func NewEngine(opts EngineOptions) (*Engine, error) {
	sm, err := NewSessionManager(opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	backend, err := NewBackend(opts.Runner)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, s := range sm.Sessions() {
		known[s.Name] = true
	}

	e := &Engine{
		runners: make(map[string]GraphRunner),
		known:   known,
		preload: opts.Preload,
		backend: backend,
		loader: func(name string) (GraphRunner, error) {
			meta, ok := sm.Session(name)
			if !ok {
				return nil, fmt.Errorf("%s graph not found in manifest", name)
			}
			return NewRunner(backend, meta)
		},
	}

	if opts.Preload {
		if err := e.Preload(); err != nil {
			e.Close()
			return nil, err
		}
	}

	return e, nil
}

// NewEngineWithRunners builds an Engine from externally provided graph runners.
// The runners are treated as preloaded.
func NewEngineWithRunners(runners map[string]GraphRunner) *Engine {
	internal := make(map[string]GraphRunner, len(runners))
	maps.Copy(internal, runners)

	known := make(map[string]bool, len(runners))
	for name := range runners {
		known[name] = true
	}

	return &Engine{runners: internal, known: known, preload: true}
}

// NewLazyEngine builds an Engine that opens graphs through loader on demand.
func NewLazyEngine(names []string, loader Loader, preload bool) *Engine {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	return &Engine{
		runners: make(map[string]GraphRunner),
		known:   known,
		loader:  loader,
		preload: preload,
	}
}

// Has reports whether the engine can run the named graph.
func (e *Engine) Has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.known[name]
}

// Graphs lists every graph the engine knows about.
func (e *Engine) Graphs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Sorted(maps.Keys(e.known))
}

// Preloaded reports whether runners stay resident between stages.
func (e *Engine) Preloaded() bool {
	return e.preload
}

// Preload opens every known graph.
func (e *Engine) Preload() error {
	for _, name := range e.Graphs() {
		if _, err := e.Acquire(name); err != nil {
			return err
		}
	}
	return nil
}

// Acquire returns the resident runner for name, opening it if needed.
func (e *Engine) Acquire(name string) (GraphRunner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.runners[name]; ok {
		return r, nil
	}
	if !e.known[name] || (e.loader == nil && e.overrides[name] == "") {
		return nil, fmt.Errorf("%s graph not found in manifest", name)
	}

	start := time.Now()
	var (
		r   GraphRunner
		err error
	)
	if path, ok := e.overrides[name]; ok && e.backend != nil {
		r, err = NewRunner(e.backend, Session{Name: name, Path: path})
	} else {
		r, err = e.loader(name)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	e.runners[name] = r

	slog.Debug("graph resident", "name", name, "ms", time.Since(start).Milliseconds())

	return r, nil
}

// Release closes the runner for name unless the engine preloads.
func (e *Engine) Release(names ...string) {
	if e.preload {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, name := range names {
		r, ok := e.runners[name]
		if !ok {
			continue
		}
		r.Close()
		delete(e.runners, name)
		slog.Debug("graph released", "name", name)
	}
}

// Resident reports whether a runner for name is currently open.
func (e *Engine) Resident(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.runners[name]
	return ok
}

// Swap replaces the runner for name, closing the previous one.
func (e *Engine) Swap(name string, r GraphRunner) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.runners[name]; ok && old != r {
		old.Close()
	}
	e.runners[name] = r
	e.known[name] = true
}

// SwapFile replaces the model file behind name. The new session is opened
// immediately so a bad file fails here rather than mid-synthesis.
func (e *Engine) SwapFile(name, path string) error {
	if e.backend == nil {
		return fmt.Errorf("swap %s: engine has no ORT backend", name)
	}

	r, err := NewRunner(e.backend, Session{Name: name, Path: path})
	if err != nil {
		return fmt.Errorf("swap %s: %w", name, err)
	}

	e.mu.Lock()
	if e.overrides == nil {
		e.overrides = make(map[string]string)
	}
	e.overrides[name] = path
	e.mu.Unlock()

	e.Swap(name, r)

	if !e.preload {
		e.Release(name)
	}

	return nil
}

// Close releases all runners and the ORT backend.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, r := range e.runners {
		r.Close()
		delete(e.runners, name)
	}
	if e.backend != nil {
		e.backend.Close()
		e.backend = nil
	}
}

// run acquires graph, runs it and checks the expected output keys.
func (e *Engine) run(ctx context.Context, graph string, inputs map[string]*Tensor, want ...string) (map[string]*Tensor, error) {
	runner, err := e.Acquire(graph)
	if err != nil {
		return nil, err
	}

	outputs, err := runner.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: run: %w", graph, err)
	}

	for _, key := range want {
		if _, ok := outputs[key]; !ok {
			return nil, fmt.Errorf("%s: missing '%s' in output", graph, key)
		}
	}

	return outputs, nil
}
