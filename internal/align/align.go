package align

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/example/go-tortoise-tts/internal/audio"
)

// SampleRate is the rate the emission model expects.
const SampleRate = 16000

// Redaction modes.
const (
	ModeMute = "mute"
	ModeCut  = "cut"
)

// lookahead bounds how many transcript characters a single emitted class
// may skip over.
const lookahead = 4

// Emitter produces per-frame class logits for standardized 16 kHz audio.
type Emitter interface {
	Emissions(ctx context.Context, wav []float32) ([][]float32, error)
}

// Aligner maps transcript characters onto audio sample offsets.
type Aligner struct {
	emitter Emitter
	vocab   *Vocab
}

// New returns an Aligner. A nil vocab selects DefaultVocab.
func New(emitter Emitter, vocab *Vocab) *Aligner {
	if vocab == nil {
		vocab = DefaultVocab()
	}
	return &Aligner{emitter: emitter, vocab: vocab}
}

// Align returns the start offset in wav of every rune of text. Characters
// the emission model never confirms are placed by linear interpolation
// between their confirmed neighbours.
func (a *Aligner) Align(ctx context.Context, wav []float32, sampleRate int, text string) ([]int, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	if len(wav) == 0 {
		return nil, errors.New("align: empty waveform")
	}

	pcm := wav
	if sampleRate != SampleRate {
		var err error
		if pcm, err = audio.Resample(wav, sampleRate, SampleRate); err != nil {
			return nil, fmt.Errorf("align: %w", err)
		}
	}

	frames, err := a.emitter.Emissions(ctx, standardize(pcm))
	if err != nil {
		return nil, fmt.Errorf("align: emissions: %w", err)
	}
	if len(frames) == 0 {
		return nil, errors.New("align: emission model returned no frames")
	}

	targets := make([]int64, len(runes))
	for i, r := range runes {
		targets[i] = a.vocab.ID(r)
	}

	offsets := make([]int, len(runes))
	for i := range offsets {
		offsets[i] = -1
	}

	perFrame := float64(len(wav)) / float64(len(frames))
	next, matched := 0, 0
	prev := a.vocab.Blank()
	for f, logits := range frames {
		if next >= len(runes) {
			break
		}

		top := argmax(logits)
		if top == a.vocab.Blank() || top == prev {
			prev = top
			continue
		}
		prev = top

		for k := next; k < min(next+lookahead, len(runes)); k++ {
			if targets[k] == top {
				offsets[k] = int(float64(f) * perFrame)
				next = k + 1
				matched++
				break
			}
		}
	}

	if matched == 0 {
		slog.Warn("alignment matched no characters", "chars", len(runes), "frames", len(frames))
	}
	slog.Debug("aligned transcript", "chars", len(runes), "matched", matched, "frames", len(frames))

	interpolate(offsets, len(wav))
	return offsets, nil
}

// Redact removes the bracketed spans of text from wav. Mute zeroes them in
// place of the original samples; cut drops them. Text without brackets
// returns wav unchanged.
func (a *Aligner) Redact(ctx context.Context, wav []float32, sampleRate int, text, mode string) ([]float32, error) {
	if !HasRedactions(text) {
		return wav, nil
	}

	segs, err := ParseBrackets(text)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return wav, nil
	}

	offsets, err := a.Align(ctx, wav, sampleRate, BareText(segs))
	if err != nil {
		return nil, err
	}

	type span struct {
		start, end int
		redact     bool
	}

	spans := make([]span, 0, len(segs))
	pos := 0
	for i, s := range segs {
		n := utf8.RuneCountInString(s.Text)
		start, end := 0, len(wav)
		if i > 0 {
			start = offsets[pos]
		}
		if i < len(segs)-1 {
			end = offsets[pos+n]
		}
		spans = append(spans, span{start: start, end: max(start, end), redact: s.Redact})
		pos += n
	}

	switch strings.ToLower(mode) {
	case "", ModeMute:
		out := append([]float32(nil), wav...)
		for _, s := range spans {
			if s.redact {
				clear(out[s.start:s.end])
			}
		}
		return out, nil
	case ModeCut:
		out := make([]float32, 0, len(wav))
		for _, s := range spans {
			if !s.redact {
				out = append(out, wav[s.start:s.end]...)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("align: unknown redaction mode %q", mode)
	}
}

// interpolate fills -1 entries between their known neighbours. The left
// edge anchors at 0 and the right edge at end.
func interpolate(offsets []int, end int) {
	for i := 0; i < len(offsets); i++ {
		if offsets[i] != -1 {
			continue
		}

		j := i
		for j < len(offsets) && offsets[j] == -1 {
			j++
		}

		left := 0
		if i > 0 {
			left = offsets[i-1]
		}
		right := end
		if j < len(offsets) {
			right = offsets[j]
		}

		gap := right - left
		for k := i; k < j; k++ {
			offsets[k] = left + (k-i+1)*gap/(j-i+1)
		}
		i = j
	}
}

// standardize returns (x - mean) / sqrt(var + 1e-7).
func standardize(wav []float32) []float32 {
	var mean float64
	for _, v := range wav {
		mean += float64(v)
	}
	mean /= float64(len(wav))

	var variance float64
	for _, v := range wav {
		d := float64(v) - mean
		variance += d * d
	}
	if len(wav) > 1 {
		variance /= float64(len(wav) - 1)
	}

	scale := 1 / math.Sqrt(variance+1e-7)
	out := make([]float32, len(wav))
	for i, v := range wav {
		out[i] = float32((float64(v) - mean) * scale)
	}
	return out
}

func argmax(v []float32) int64 {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return int64(best)
}
