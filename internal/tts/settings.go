package tts

import (
	"errors"
	"fmt"

	"github.com/example/go-tortoise-tts/internal/diffusion"
)

// Fixed codes of the mel token vocabulary used by the repair pass.
const (
	// CalmToken codes silence.
	CalmToken int64 = 83
	// MaxTextTokens bounds the padded text token sequence (exclusive).
	MaxTextTokens = 400
)

// StopTail is written over the last three positions of a repaired candidate.
var StopTail = [3]int64{45, 45, 248}

var (
	ErrTextTooLong   = errors.New("text too long: split it into separate segments")
	ErrKilled        = errors.New("synthesis killed")
	ErrNoVoice       = errors.New("voice unavailable")
	ErrUnknownPreset = errors.New("unknown preset")
)

// Settings are the generation knobs of one synthesis call.
type Settings struct {
	// K is the number of waveforms returned.
	K int

	NumSamples        int
	BatchSize         int
	Temperature       float64
	LengthPenalty     float64
	RepetitionPenalty float64
	TopP              float64
	MaxMelTokens      int

	// CVVPAmount mixes the voice score into the ranking, in [0, 1].
	CVVPAmount float64

	DiffusionIterations  int
	ConditioningFree     bool
	ConditioningFreeK    float64
	ConditioningFreeRamp bool
	DiffusionTemperature float64
	Sampler              string
	BreathingRoom        int
}

// DefaultSettings returns the baseline knobs presets are layered on.
func DefaultSettings() Settings {
	return Settings{
		K:                    1,
		NumSamples:           512,
		BatchSize:            16,
		Temperature:          0.8,
		LengthPenalty:        1,
		RepetitionPenalty:    2,
		TopP:                 0.8,
		MaxMelTokens:         500,
		CVVPAmount:           0,
		DiffusionIterations:  100,
		ConditioningFree:     true,
		ConditioningFreeK:    2,
		DiffusionTemperature: 1,
		Sampler:              diffusion.SamplerP,
		BreathingRoom:        8,
	}
}

// Validate checks ranges and normalizes the sampler name.
func (s *Settings) Validate() error {
	switch {
	case s.K < 1:
		return fmt.Errorf("k must be >= 1, got %d", s.K)
	case s.NumSamples < 1:
		return fmt.Errorf("num samples must be >= 1, got %d", s.NumSamples)
	case s.BatchSize < 1:
		return fmt.Errorf("batch size must be >= 1, got %d", s.BatchSize)
	case s.MaxMelTokens < 4:
		return fmt.Errorf("max mel tokens must be >= 4, got %d", s.MaxMelTokens)
	case s.TopP <= 0 || s.TopP > 1:
		return fmt.Errorf("top p must be in (0, 1], got %v", s.TopP)
	case s.Temperature <= 0:
		return fmt.Errorf("temperature must be > 0, got %v", s.Temperature)
	case s.CVVPAmount < 0 || s.CVVPAmount > 1:
		return fmt.Errorf("cvvp amount must be in [0, 1], got %v", s.CVVPAmount)
	case s.DiffusionIterations < 1 || s.DiffusionIterations > diffusion.TrainedSteps:
		return fmt.Errorf("diffusion iterations must be in [1, %d], got %d", diffusion.TrainedSteps, s.DiffusionIterations)
	case s.ConditioningFreeK < 0:
		return fmt.Errorf("cond free k must be >= 0, got %v", s.ConditioningFreeK)
	case s.DiffusionTemperature < 0:
		return fmt.Errorf("diffusion temperature must be >= 0, got %v", s.DiffusionTemperature)
	case s.BreathingRoom < 0:
		return fmt.Errorf("breathing room must be >= 0, got %d", s.BreathingRoom)
	}

	sampler, err := diffusion.NormalizeSampler(s.Sampler)
	if err != nil {
		return err
	}
	s.Sampler = sampler
	return nil
}

// Overrides replace individual settings after the preset is applied. Nil
// fields keep the preset value.
type Overrides struct {
	K                    *int     `json:"k,omitempty"`
	NumSamples           *int     `json:"num_autoregressive_samples,omitempty"`
	BatchSize            *int     `json:"batch_size,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	LengthPenalty        *float64 `json:"length_penalty,omitempty"`
	RepetitionPenalty    *float64 `json:"repetition_penalty,omitempty"`
	TopP                 *float64 `json:"top_p,omitempty"`
	MaxMelTokens         *int     `json:"max_mel_tokens,omitempty"`
	CVVPAmount           *float64 `json:"cvvp_amount,omitempty"`
	DiffusionIterations  *int     `json:"diffusion_iterations,omitempty"`
	ConditioningFree     *bool    `json:"cond_free,omitempty"`
	ConditioningFreeK    *float64 `json:"cond_free_k,omitempty"`
	ConditioningFreeRamp *bool    `json:"cond_free_ramp,omitempty"`
	DiffusionTemperature *float64 `json:"diffusion_temperature,omitempty"`
	Sampler              *string  `json:"sampler,omitempty"`
	BreathingRoom        *int     `json:"breathing_room,omitempty"`
}

// Apply writes every set override into s.
func (o Overrides) Apply(s *Settings) {
	setIf(&s.K, o.K)
	setIf(&s.NumSamples, o.NumSamples)
	setIf(&s.BatchSize, o.BatchSize)
	setIf(&s.Temperature, o.Temperature)
	setIf(&s.LengthPenalty, o.LengthPenalty)
	setIf(&s.RepetitionPenalty, o.RepetitionPenalty)
	setIf(&s.TopP, o.TopP)
	setIf(&s.MaxMelTokens, o.MaxMelTokens)
	setIf(&s.CVVPAmount, o.CVVPAmount)
	setIf(&s.DiffusionIterations, o.DiffusionIterations)
	setIf(&s.ConditioningFree, o.ConditioningFree)
	setIf(&s.ConditioningFreeK, o.ConditioningFreeK)
	setIf(&s.ConditioningFreeRamp, o.ConditioningFreeRamp)
	setIf(&s.DiffusionTemperature, o.DiffusionTemperature)
	setIf(&s.Sampler, o.Sampler)
	setIf(&s.BreathingRoom, o.BreathingRoom)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
