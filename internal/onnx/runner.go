package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Backend owns the process ORT runtime and environment shared by every
// session of one engine.
type Backend struct {
	mu      sync.Mutex
	runtime *ort.Runtime
	env     *ort.Env
}

// NewBackend loads the ORT shared library and creates the environment.
func NewBackend(cfg RunnerConfig) (*Backend, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 23
	}

	runtime, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime (%s): %w", cfg.LibraryPath, err)
	}

	env, err := runtime.NewEnv("tortoisetts", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env: %w", err)
	}

	return &Backend{runtime: runtime, env: env}, nil
}

// Close releases the environment and runtime. Runners created from the
// backend must be closed first.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.env != nil {
		b.env.Close()
		b.env = nil
	}
	if b.runtime != nil {
		_ = b.runtime.Close()
		b.runtime = nil
	}
}

// Runner wraps an ORT session for a single ONNX graph.
type Runner struct {
	name    string
	backend *Backend
	session *ort.Session
	meta    Session
}

// NewRunner opens the session described by meta on the given backend.
func NewRunner(b *Backend, meta Session) (*Runner, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.runtime == nil {
		return nil, fmt.Errorf("ort session for %q: backend is closed", meta.Name)
	}

	session, err := b.runtime.NewSession(b.env, meta.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("ort session for %q (%s): %w", meta.Name, meta.Path, err)
	}

	return &Runner{
		name:    meta.Name,
		backend: b,
		session: session,
		meta:    meta,
	}, nil
}

// Run executes the graph. Inputs the manifest declares must be present with
// the declared dtype and rank; see bindInputs.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: runner is closed", r.name)
	}
	inputs, err := bindInputs(r.meta, inputs)
	if err != nil {
		return nil, err
	}

	ortInputs := make(map[string]*ort.Value, len(inputs))
	defer closeORTValues(ortInputs)

	for name, t := range inputs {
		v, err := tensorToORT(r.backend.runtime, t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		ortInputs[name] = v
	}

	ortOutputs, err := r.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer closeORTValues(ortOutputs)

	results := make(map[string]*Tensor, len(ortOutputs))
	for name, v := range ortOutputs {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		results[name] = t
	}

	return results, nil
}

// Close releases the session. Safe to call multiple times.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}
}

func (r *Runner) Name() string {
	return r.name
}

// bindInputs checks inputs against the manifest entry. When the manifest
// declares inputs, undeclared extras are dropped: exports of the same network
// differ in optional inputs such as conditioning_free. A graph with no declared
// inputs receives everything.
func bindInputs(meta Session, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if len(meta.Inputs) == 0 {
		return inputs, nil
	}

	bound := make(map[string]*Tensor, len(meta.Inputs))
	for _, decl := range meta.Inputs {
		t, ok := inputs[decl.Name]
		if !ok || t == nil {
			return nil, fmt.Errorf("run %q: missing input %q", meta.Name, decl.Name)
		}
		if decl.DType != "" {
			want, err := canonicalDType(decl.DType)
			if err != nil {
				return nil, fmt.Errorf("run %q: input %q: %w", meta.Name, decl.Name, err)
			}
			if t.DType() != want {
				return nil, fmt.Errorf("run %q: input %q is %s, graph expects %s", meta.Name, decl.Name, t.DType(), want)
			}
		}
		if len(decl.Shape) > 0 && len(decl.Shape) != len(t.Shape()) {
			return nil, fmt.Errorf("run %q: input %q has rank %d, graph expects %d", meta.Name, decl.Name, len(t.Shape()), len(decl.Shape))
		}
		bound[decl.Name] = t
	}
	return bound, nil
}

func tensorToORT(runtime *ort.Runtime, t *Tensor) (*ort.Value, error) {
	switch data := t.data.(type) {
	case []float32:
		return ort.NewTensorValue(runtime, data, t.Shape())
	case []int64:
		return ort.NewTensorValue(runtime, data, t.Shape())
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %T", data)
	}
}

func ortToTensor(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("get element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}
		return NewTensor(data, shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}
		return NewTensor(data, shape)
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
