package tts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/example/go-tortoise-tts/internal/align"
	"github.com/example/go-tortoise-tts/internal/config"
	"github.com/example/go-tortoise-tts/internal/model"
	"github.com/example/go-tortoise-tts/internal/onnx"
	"github.com/example/go-tortoise-tts/internal/text"
	"github.com/example/go-tortoise-tts/internal/tokenizer"
)

// Service wires the orchestrator to configuration, presets and the voices
// directory.
type Service struct {
	orch    *Orchestrator
	engine  *onnx.Engine
	presets *Presets
	voices  *VoiceManager
	ttsCfg  config.TTSConfig
}

// Input is a synthesis request in user terms.
type Input struct {
	Text      string
	Voice     string
	Preset    string
	Overrides Overrides
	Seed      *int64
	// Latents replace the voice when set.
	Latents *ConditioningLatents

	Slices       int
	MaxChunkSize int
}

// NewService opens the model bundle and the resources named by cfg.
// onStage may be nil.
func NewService(cfg config.Config, onStage func(string, time.Duration)) (*Service, error) {
	rt, err := onnx.Bootstrap(cfg.Runtime)
	if err != nil {
		return nil, err
	}

	engine, err := onnx.NewEngine(onnx.EngineOptions{
		ManifestPath: cfg.Paths.ONNXManifest,
		Runner: onnx.RunnerConfig{
			LibraryPath: rt.LibraryPath,
			APIVersion:  uint32(cfg.Runtime.ORTAPIVersion),
		},
		Preload: cfg.TTS.Preload,
	})
	if err != nil {
		return nil, err
	}

	svc, err := newService(cfg, engine, onStage)
	if err != nil {
		engine.Close()
		return nil, err
	}
	return svc, nil
}

func newService(cfg config.Config, engine *onnx.Engine, onStage func(string, time.Duration)) (*Service, error) {
	var missing []string
	for _, g := range onnx.CoreGraphs {
		if !engine.Has(g) {
			missing = append(missing, g)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("model bundle lacks graph(s): %s", strings.Join(missing, ", "))
	}

	tok, err := tokenizer.Open(cfg.TTS.Tokenizer, cfg.Paths.TokenizerModel)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}

	var vocab *align.Vocab
	if cfg.Paths.AlignerVocab != "" {
		vocab, err = align.LoadVocab(cfg.Paths.AlignerVocab)
		if err != nil {
			return nil, err
		}
	}

	presets, err := LoadPresets(cfg.Paths.PresetsFile)
	if err != nil {
		return nil, err
	}
	if _, err := presets.Lookup(cfg.TTS.Preset); err != nil {
		return nil, err
	}

	voices, err := NewVoiceManager(cfg.Paths.VoicesDir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("voices directory not found, only the random voice is available", "dir", cfg.Paths.VoicesDir)
		voices, err = &VoiceManager{byID: map[string]Voice{}}, nil
	}
	if err != nil {
		return nil, err
	}

	orch, err := New(Options{
		Models:           EngineModels(engine, vocab),
		Tokenizer:        tok,
		InputSampleRate:  cfg.TTS.InputSampleRate,
		OutputSampleRate: cfg.TTS.OutputSampleRate,
		Redaction:        cfg.TTS.Redaction,
		RedactionMode:    cfg.TTS.RedactionMode,
		ReclaimMemory:    cfg.TTS.ReclaimMemory,
		Workers:          cfg.Runtime.Threads,
		OnStage:          onStage,
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("pipeline ready", "graphs", len(engine.Graphs()), "preload", engine.Preloaded(), "presets", len(presets.Names()))

	return &Service{orch: orch, engine: engine, presets: presets, voices: voices, ttsCfg: cfg.TTS}, nil
}

// Settings resolves the knobs for preset and overrides on top of the
// configured pipeline defaults.
func (s *Service) Settings(preset string, overrides Overrides) (Settings, error) {
	base := DefaultSettings()
	base.BatchSize = s.ttsCfg.BatchSize
	base.CVVPAmount = s.ttsCfg.CVVPAmount
	base.ConditioningFreeRamp = s.ttsCfg.CondFreeRamp
	if preset == "" {
		preset = s.ttsCfg.Preset
	}
	return s.presets.ResolveFrom(base, preset, overrides)
}

func (s *Service) Synthesize(ctx context.Context, in Input) (*Result, error) {
	input, err := text.Normalize(in.Text)
	if err != nil {
		return nil, err
	}

	settings, err := s.Settings(in.Preset, in.Overrides)
	if err != nil {
		return nil, err
	}

	req := Request{
		Text:         input,
		Latents:      in.Latents,
		Settings:     settings,
		Seed:         in.Seed,
		Slices:       in.Slices,
		MaxChunkSize: in.MaxChunkSize,
	}
	if req.Latents == nil {
		voice := in.Voice
		if voice == "" {
			voice = s.ttsCfg.Voice
		}
		vin, err := s.voices.Load(voice, s.ttsCfg.InputSampleRate)
		if err != nil {
			return nil, err
		}
		req.Clips, req.Latents = vin.Clips, vin.Latents
	}

	return s.orch.Synthesize(ctx, req)
}

// VoiceLatents computes the conditioning latents of a voice from its clips
// and, when save is set, writes them to the voice's latents cache.
func (s *Service) VoiceLatents(ctx context.Context, voice string, opts LatentOptions, save bool) (*ConditioningLatents, string, error) {
	clips, err := s.voices.LoadClips(voice, s.ttsCfg.InputSampleRate)
	if err != nil {
		return nil, "", err
	}

	latents, err := s.orch.ComputeLatents(ctx, clips, opts)
	if err != nil {
		return nil, "", err
	}
	if !save {
		return latents, "", nil
	}

	path, err := s.voices.LatentsPath(voice)
	if err != nil {
		return nil, "", err
	}
	if err := SaveLatents(path, latents, voice, len(clips), s.ttsCfg.InputSampleRate, s.ttsCfg.OutputSampleRate); err != nil {
		return nil, "", err
	}
	slog.Info("voice latents saved", "voice", voice, "path", path)
	return latents, path, nil
}

// SwapGraph replaces the model file behind a graph between calls and returns
// the new file's SHA-256.
func (s *Service) SwapGraph(name, path string) (string, error) {
	sum, err := model.FileSHA256(path)
	if err != nil {
		return "", err
	}

	s.orch.mu.Lock()
	defer s.orch.mu.Unlock()

	if err := s.engine.SwapFile(name, path); err != nil {
		return "", err
	}
	slog.Info("graph swapped", "graph", name, "path", path, "sha256", sum)
	return sum, nil
}

func (s *Service) Stop() bool { return s.orch.Stop() }

func (s *Service) Presets() []Preset { return s.presets.List() }

func (s *Service) Voices() []Voice { return s.voices.ListVoices() }

// OutputSampleRate is the rate of every returned waveform.
func (s *Service) OutputSampleRate() int { return s.ttsCfg.OutputSampleRate }

func (s *Service) Close() {
	if s.engine != nil {
		s.engine.Close()
	}
}
