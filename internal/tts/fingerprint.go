package tts

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Fingerprint summarizes one generated waveform so runs with the same seed
// can be compared.
type Fingerprint struct {
	Seed          int64   `json:"seed"`
	Candidate     int     `json:"candidate"`
	Score         float32 `json:"score"`
	SampleRate    int     `json:"sample_rate"`
	SampleCount   int     `json:"sample_count"`
	PeakAbs       float64 `json:"peak_abs"`
	RMS           float64 `json:"rms"`
	PCMHashSHA256 string  `json:"pcm_hash_sha256"`
}

// Fingerprints describes every waveform of r.
func (r *Result) Fingerprints() []Fingerprint {
	out := make([]Fingerprint, len(r.Waveforms))
	for i, w := range r.Waveforms {
		fp := Fingerprint{
			Seed:          r.Seed,
			SampleRate:    r.SampleRate,
			SampleCount:   len(w),
			PeakAbs:       peakAbs(w),
			RMS:           rms(w),
			PCMHashSHA256: hashPCM(w),
		}
		if i < len(r.Candidates) {
			fp.Candidate = r.Candidates[i].Index
			fp.Score = r.Candidates[i].Score
		}
		out[i] = fp
	}
	return out
}

func SaveFingerprints(path string, fps []Fingerprint) error {
	data, err := json.MarshalIndent(fps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fingerprints: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fingerprints: %w", err)
	}
	return nil
}

func LoadFingerprints(path string) ([]Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fingerprints: %w", err)
	}
	var fps []Fingerprint
	if err := json.Unmarshal(data, &fps); err != nil {
		return nil, fmt.Errorf("decode fingerprints: %w", err)
	}
	return fps, nil
}

// SamePCM reports whether two fingerprint sets describe bit-identical audio.
func SamePCM(a, b []Fingerprint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].PCMHashSHA256 != b[i].PCMHashSHA256 || a[i].SampleCount != b[i].SampleCount {
			return false
		}
	}
	return true
}

func peakAbs(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
	}
	return peak
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func hashPCM(samples []float32) string {
	h := sha256.New()
	var b [4]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(s))
		_, _ = h.Write(b[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
