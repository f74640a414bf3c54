package safetensors

import (
	"fmt"
	"strconv"
)

// Tensor names used by conditioning latent caches.
const (
	AutoregressiveLatentName = "autoregressive_conditioning_latent"
	DiffusionLatentName      = "diffusion_conditioning_latent"
)

// Metadata keys written alongside cached latents.
const (
	MetaVoice      = "voice"
	MetaInputRate  = "input_sample_rate"
	MetaOutputRate = "output_sample_rate"
	MetaClips      = "clips"
)

// Latents is the on-disk form of a conditioning latent pair.
type Latents struct {
	Autoregressive []float32
	Diffusion      []float32
	Metadata       map[string]string
}

// SaveLatents writes both conditioning latents to path.
func SaveLatents(path string, l Latents) error {
	if len(l.Autoregressive) == 0 || len(l.Diffusion) == 0 {
		return fmt.Errorf("safetensors: refusing to save empty latents to %s", path)
	}

	return WriteFile(path, []Tensor{
		{Name: AutoregressiveLatentName, Shape: []int64{1, int64(len(l.Autoregressive))}, Data: l.Autoregressive},
		{Name: DiffusionLatentName, Shape: []int64{1, int64(len(l.Diffusion))}, Data: l.Diffusion},
	}, l.Metadata)
}

// LoadLatents reads a latent pair written by SaveLatents. Either tensor may
// be stored as [D] or [1, D] in any supported float dtype.
func LoadLatents(path string) (*Latents, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ar, err := latentVector(store, AutoregressiveLatentName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	diff, err := latentVector(store, DiffusionLatentName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Latents{Autoregressive: ar, Diffusion: diff, Metadata: store.Metadata()}, nil
}

// IntMeta parses an integer metadata value, returning 0 when absent or invalid.
func (l *Latents) IntMeta(key string) int {
	n, err := strconv.Atoi(l.Metadata[key])
	if err != nil {
		return 0
	}
	return n
}

func latentVector(s *Store, name string) ([]float32, error) {
	t, err := s.Tensor(name)
	if err != nil {
		return nil, err
	}

	switch {
	case len(t.Shape) == 1:
	case len(t.Shape) == 2 && t.Shape[0] == 1:
	default:
		return nil, fmt.Errorf("safetensors: latent %q has shape %v, expected [D] or [1, D]", name, t.Shape)
	}

	if len(t.Data) == 0 {
		return nil, fmt.Errorf("safetensors: latent %q is empty", name)
	}

	return t.Data, nil
}
