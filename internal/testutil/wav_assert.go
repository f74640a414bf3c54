package testutil

import (
	"bytes"
	"math"
	"testing"

	"github.com/cwbudde/wav"

	"github.com/example/go-tortoise-tts/internal/audio"
)

// DecodeOutputWAV checks that data is a WAV the pipeline writes (mono
// 16-bit PCM at wantRate) and returns its samples.
func DecodeOutputWAV(tb testing.TB, data []byte, wantRate int) []float32 {
	tb.Helper()

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		tb.Fatalf("WAV: not a valid RIFF/WAVE file (%d bytes)", len(data))
	}
	if dec.WavAudioFormat != 1 {
		tb.Fatalf("WAV: expected PCM format (1), got %d", dec.WavAudioFormat)
	}
	if int(dec.NumChans) != audio.OutputChannels {
		tb.Fatalf("WAV: expected %d channel(s), got %d", audio.OutputChannels, dec.NumChans)
	}
	if int(dec.BitDepth) != audio.OutputBitDepth {
		tb.Fatalf("WAV: expected %d-bit depth, got %d", audio.OutputBitDepth, dec.BitDepth)
	}

	samples, err := audio.DecodeWAVAt(data, wantRate)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}
	return samples
}

// AssertValidWAV checks the output format and that at least one sample is
// present.
func AssertValidWAV(tb testing.TB, data []byte, wantRate int) {
	tb.Helper()

	if samples := DecodeOutputWAV(tb, data, wantRate); len(samples) == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}
}

// AssertWAVDurationApprox asserts that the audio lasts between minSec and
// maxSec.
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		tb.Fatalf("WAV duration check: %v", err)
	}
	if rate == 0 {
		tb.Fatal("WAV duration check: zero sample rate")
	}

	sec := float64(len(samples)) / float64(rate)
	if sec < minSec || sec > maxSec {
		tb.Fatalf("WAV duration %.3fs out of expected range [%.3fs, %.3fs]", sec, minSec, maxSec)
	}
}

// AssertAudible fails when the RMS level of samples is below minRMS. Real
// synthesis never produces digital silence.
func AssertAudible(tb testing.TB, samples []float32, minRMS float64) {
	tb.Helper()

	if len(samples) == 0 {
		tb.Fatal("audio: no samples")
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	if rms := math.Sqrt(sum / float64(len(samples))); rms < minRMS {
		tb.Fatalf("audio: RMS %.5f below %.5f", rms, minRMS)
	}
}
