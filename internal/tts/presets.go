package tts

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset selects the sample count and diffusion effort of a synthesis call.
type Preset struct {
	Name                string `yaml:"-" json:"name"`
	NumSamples          int    `yaml:"num_autoregressive_samples" json:"num_autoregressive_samples"`
	DiffusionIterations int    `yaml:"diffusion_iterations" json:"diffusion_iterations"`
	// ConditioningFree is left at the default when unset.
	ConditioningFree *bool `yaml:"cond_free,omitempty" json:"cond_free,omitempty"`
}

// Built-in preset names.
const (
	PresetUltraFast   = "ultra_fast"
	PresetFast        = "fast"
	PresetStandard    = "standard"
	PresetHighQuality = "high_quality"
)

// Presets is a lookup of named presets.
type Presets struct {
	byName map[string]Preset
}

// BuiltinPresets returns the four stock presets.
func BuiltinPresets() *Presets {
	off := false
	p := &Presets{byName: map[string]Preset{}}
	for _, v := range []Preset{
		{Name: PresetUltraFast, NumSamples: 16, DiffusionIterations: 30, ConditioningFree: &off},
		{Name: PresetFast, NumSamples: 96, DiffusionIterations: 80},
		{Name: PresetStandard, NumSamples: 256, DiffusionIterations: 200},
		{Name: PresetHighQuality, NumSamples: 256, DiffusionIterations: 400},
	} {
		p.byName[v.Name] = v
	}
	return p
}

type presetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// LoadPresets returns the built-in presets extended by the YAML file at path.
// File entries replace built-ins of the same name. An empty path yields the
// built-ins only.
//
//	presets:
//	  narration:
//	    num_autoregressive_samples: 64
//	    diffusion_iterations: 120
//	    cond_free: true
func LoadPresets(path string) (*Presets, error) {
	p := BuiltinPresets()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode presets %s: %w", path, err)
	}

	for name, preset := range file.Presets {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("presets %s: empty preset name", path)
		}
		if preset.NumSamples < 1 || preset.DiffusionIterations < 1 {
			return nil, fmt.Errorf("presets %s: %q needs positive num_autoregressive_samples and diffusion_iterations", path, name)
		}
		preset.Name = name
		p.byName[name] = preset
	}
	return p, nil
}

// Names lists preset names in sorted order.
func (p *Presets) Names() []string {
	names := make([]string, 0, len(p.byName))
	for n := range p.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// List returns every preset in name order.
func (p *Presets) List() []Preset {
	out := make([]Preset, 0, len(p.byName))
	for _, n := range p.Names() {
		out = append(out, p.byName[n])
	}
	return out
}

// Lookup finds a preset by case-insensitive name.
func (p *Presets) Lookup(name string) (Preset, error) {
	v, ok := p.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, fmt.Errorf("%w %q (have %s)", ErrUnknownPreset, name, strings.Join(p.Names(), ", "))
	}
	return v, nil
}

// Resolve layers the named preset over the defaults and the overrides over
// the preset. An empty name skips the preset layer.
func (p *Presets) Resolve(name string, overrides Overrides) (Settings, error) {
	return p.ResolveFrom(DefaultSettings(), name, overrides)
}

// ResolveFrom is Resolve with caller-provided defaults.
func (p *Presets) ResolveFrom(base Settings, name string, overrides Overrides) (Settings, error) {
	s := base
	if name != "" {
		preset, err := p.Lookup(name)
		if err != nil {
			return Settings{}, err
		}
		s.NumSamples = preset.NumSamples
		s.DiffusionIterations = preset.DiffusionIterations
		if preset.ConditioningFree != nil {
			s.ConditioningFree = *preset.ConditioningFree
		}
	}

	overrides.Apply(&s)
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
