// Package playback plays synthesized audio on the default output device.
package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/example/go-tortoise-tts/internal/audio"
)

// oto allows one context per process, fixed to the first sample rate.
var (
	ctxOnce sync.Once
	otoCtx  *oto.Context
	ctxRate int
	ctxErr  error
)

func outputContext(sampleRate int) (*oto.Context, error) {
	ctxOnce.Do(func() {
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			ctxErr = fmt.Errorf("open audio device: %w", err)
			return
		}
		<-ready
		otoCtx, ctxRate = c, sampleRate
		log.Debug("audio device ready", "sample_rate", sampleRate)
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	if ctxRate != sampleRate {
		return nil, fmt.Errorf("audio device opened at %d Hz, cannot play %d Hz", ctxRate, sampleRate)
	}
	return otoCtx, nil
}

// Play blocks until samples finish playing or ctx is done.
func Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return errors.New("nothing to play")
	}
	c, err := outputContext(sampleRate)
	if err != nil {
		return err
	}

	p := c.NewPlayer(bytes.NewReader(PCM16(samples)))
	defer func() { _ = p.Close() }()
	p.Play()

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for p.IsPlaying() {
		select {
		case <-ctx.Done():
			p.Pause()
			return ctx.Err()
		case <-tick.C:
		}
	}
	return p.Err()
}

// PCM16 converts samples to signed 16-bit little-endian PCM, clamping to
// [-1, 1].
func PCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range audio.Clamp(samples) {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(float64(s)*math.MaxInt16))))
	}
	return out
}

// Duration is the playing time of n samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
