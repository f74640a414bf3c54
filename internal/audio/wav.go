package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// Output WAV format.
const (
	OutputChannels = 1
	OutputBitDepth = 16
)

// ErrFormatMismatch is returned when a decoded WAV does not match the expected format.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// EncodeWAV encodes float32 PCM samples as mono 16-bit PCM at sampleRate.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	var buf bytes.Buffer

	// wav.NewEncoder requires an io.WriteSeeker.
	sw := &seekBuffer{buf: &buf}
	enc := wav.NewEncoder(sw, sampleRate, OutputBitDepth, OutputChannels, 1) // 1 = PCM

	pcmBuf := &goaudio.Float32Buffer{
		Data:           Clamp(samples),
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: OutputChannels},
		SourceBitDepth: OutputBitDepth,
	}

	if err := enc.Write(pcmBuf); err != nil {
		return nil, fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes WAV bytes into mono float32 PCM and its sample rate.
// Multi-channel input is averaged down to one channel.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("reading PCM data: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, 0, fmt.Errorf("%w: %d channels", ErrFormatMismatch, channels)
	}

	return downmix(buf.Data, channels), int(dec.SampleRate), nil
}

// DecodeWAVAt decodes WAV bytes and requires the given sample rate.
func DecodeWAVAt(data []byte, sampleRate int) ([]float32, error) {
	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if rate != sampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, rate, sampleRate)
	}
	return samples, nil
}

// LoadClip reads a WAV file, downmixes it to mono, resamples it to
// sampleRate and clamps it to [-1, 1].
func LoadClip(path string, sampleRate int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode clip %s: %w", path, err)
	}

	if rate != sampleRate {
		samples, err = Resample(samples, rate, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample clip %s: %w", path, err)
		}
	}

	return Clamp(samples), nil
}

func downmix(data []float32, channels int) []float32 {
	if channels == 1 {
		return data
	}

	frames := len(data) / channels
	out := make([]float32, frames)
	for f := range out {
		var sum float32
		for c := range channels {
			sum += data[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}

	// Overwrite in place (the encoder patches header sizes on Close).
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		s.buf.Write(p[n:])
	}
	s.pos += len(p)
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case io.SeekStart:
		newPos = int(offset)
	case io.SeekCurrent:
		newPos = s.pos + int(offset)
	case io.SeekEnd:
		newPos = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if newPos < 0 || newPos > s.buf.Len() {
		return 0, fmt.Errorf("seek to %d outside [0, %d]", newPos, s.buf.Len())
	}
	s.pos = newPos
	return int64(newPos), nil
}
