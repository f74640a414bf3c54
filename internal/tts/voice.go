package tts

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/example/go-tortoise-tts/internal/audio"
	"github.com/example/go-tortoise-tts/internal/safetensors"
)

// RandomVoice selects the random latent generators instead of a recorded
// voice.
const RandomVoice = "random"

// LatentsFile is the cached conditioning latents inside a voice directory.
const LatentsFile = "latents.safetensors"

// Voice is one subdirectory of the voices directory.
type Voice struct {
	ID      string   `json:"id"`
	Dir     string   `json:"dir"`
	Clips   []string `json:"clips,omitempty"`
	Latents string   `json:"latents,omitempty"`
}

// VoiceInput is what a voice contributes to a Request.
type VoiceInput struct {
	Clips   [][]float32
	Latents *ConditioningLatents
}

type VoiceManager struct {
	voices []Voice
	byID   map[string]Voice
}

// NewVoiceManager indexes dir. Every subdirectory holding WAV clips or a
// latents cache is a voice named after the subdirectory.
func NewVoiceManager(dir string) (*VoiceManager, error) {
	if dir == "" {
		return nil, errors.New("voices directory is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read voices directory: %w", err)
	}

	mgr := &VoiceManager{byID: make(map[string]Voice)}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := strings.ToLower(e.Name())
		if id == RandomVoice {
			return nil, fmt.Errorf("voice directory %q shadows the built-in %q voice", e.Name(), RandomVoice)
		}
		if strings.Contains(id, "&") {
			return nil, fmt.Errorf("voice directory %q: '&' is reserved for combining voices", e.Name())
		}

		v, err := scanVoice(id, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(v.Clips) == 0 && v.Latents == "" {
			continue
		}
		mgr.voices = append(mgr.voices, v)
		mgr.byID[id] = v
	}

	return mgr, nil
}

func scanVoice(id, dir string) (Voice, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return Voice{}, fmt.Errorf("voice %q: %w", id, err)
	}

	v := Voice{ID: id, Dir: dir}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		switch {
		case strings.EqualFold(filepath.Ext(name), ".wav"):
			v.Clips = append(v.Clips, filepath.Join(dir, name))
		case name == LatentsFile:
			v.Latents = filepath.Join(dir, name)
		}
	}
	slices.Sort(v.Clips)
	return v, nil
}

func (m *VoiceManager) ListVoices() []Voice {
	return append([]Voice(nil), m.voices...)
}

// Voice looks up a single voice by id.
func (m *VoiceManager) Voice(id string) (Voice, error) {
	v, ok := m.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Voice{}, fmt.Errorf("%w: unknown voice id %q", ErrNoVoice, id)
	}
	return v, nil
}

// Load resolves a voice selector to request input. The selector is a voice id,
// RandomVoice, or several ids joined with '&'. A voice with a latents cache
// uses it instead of its clips. Combined voices pool their clips, or average
// their latents when every member has a cache.
func (m *VoiceManager) Load(selector string, inputRate int) (VoiceInput, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" || strings.EqualFold(selector, RandomVoice) {
		return VoiceInput{}, nil
	}

	var voices []Voice
	for _, id := range strings.Split(selector, "&") {
		v, err := m.Voice(id)
		if err != nil {
			return VoiceInput{}, err
		}
		voices = append(voices, v)
	}

	if allCached(voices) {
		return loadCached(voices, inputRate)
	}

	var in VoiceInput
	for _, v := range voices {
		clips, err := loadClips(v, inputRate)
		if err != nil {
			return VoiceInput{}, err
		}
		in.Clips = append(in.Clips, clips...)
	}
	slog.Debug("voice loaded", "voice", selector, "clips", len(in.Clips))
	return in, nil
}

// LoadClips reads the reference clips of one voice, ignoring its latents
// cache.
func (m *VoiceManager) LoadClips(id string, inputRate int) ([][]float32, error) {
	v, err := m.Voice(id)
	if err != nil {
		return nil, err
	}
	return loadClips(v, inputRate)
}

func loadClips(v Voice, inputRate int) ([][]float32, error) {
	if len(v.Clips) == 0 {
		return nil, fmt.Errorf("%w: voice %q has no clips", ErrNoVoice, v.ID)
	}
	clips := make([][]float32, 0, len(v.Clips))
	for _, path := range v.Clips {
		clip, err := audio.LoadClip(path, inputRate)
		if err != nil {
			return nil, fmt.Errorf("voice %q: %w", v.ID, err)
		}
		clips = append(clips, clip)
	}
	return clips, nil
}

func allCached(voices []Voice) bool {
	for _, v := range voices {
		if v.Latents == "" {
			return false
		}
	}
	return true
}

func loadCached(voices []Voice, inputRate int) (VoiceInput, error) {
	var sum *ConditioningLatents
	for _, v := range voices {
		l, err := safetensors.LoadLatents(v.Latents)
		if err != nil {
			return VoiceInput{}, fmt.Errorf("voice %q: %w", v.ID, err)
		}
		if rate := l.IntMeta(safetensors.MetaInputRate); rate != 0 && rate != inputRate {
			slog.Warn("cached latents were computed at another input rate", "voice", v.ID, "cached", rate, "configured", inputRate)
		}

		if sum == nil {
			sum = &ConditioningLatents{
				Autoregressive: slices.Clone(l.Autoregressive),
				Diffusion:      slices.Clone(l.Diffusion),
			}
			continue
		}
		if len(l.Autoregressive) != len(sum.Autoregressive) || len(l.Diffusion) != len(sum.Diffusion) {
			return VoiceInput{}, fmt.Errorf("voice %q: latent sizes differ from the other voices", v.ID)
		}
		addInto(sum.Autoregressive, l.Autoregressive)
		addInto(sum.Diffusion, l.Diffusion)
	}

	n := float32(len(voices))
	for i := range sum.Autoregressive {
		sum.Autoregressive[i] /= n
	}
	for i := range sum.Diffusion {
		sum.Diffusion[i] /= n
	}
	return VoiceInput{Latents: sum}, nil
}

func addInto(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

// LatentsPath is where the latents cache of voice id belongs.
func (m *VoiceManager) LatentsPath(id string) (string, error) {
	v, err := m.Voice(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.Dir, LatentsFile), nil
}
