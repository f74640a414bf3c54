package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig   `mapstructure:"paths"`
	Runtime   RuntimeConfig `mapstructure:"runtime"`
	Server    ServerConfig  `mapstructure:"server"`
	TTS       TTSConfig     `mapstructure:"tts"`
	LogLevel  string        `mapstructure:"log_level"`
	LogFormat string        `mapstructure:"log_format"`
}

type PathsConfig struct {
	ONNXManifest   string `mapstructure:"onnx_manifest"`
	TokenizerModel string `mapstructure:"tokenizer_model"`
	PresetsFile    string `mapstructure:"presets_file"`
	VoicesDir      string `mapstructure:"voices_dir"`
	AlignerVocab   string `mapstructure:"aligner_vocab"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	ORTAPIVersion  int    `mapstructure:"ort_api_version"`
}

type ServerConfig struct {
	ListenAddr      string  `mapstructure:"listen_addr"`
	Workers         int     `mapstructure:"workers"`
	MaxTextBytes    int     `mapstructure:"max_text_bytes"`
	RequestTimeout  int     `mapstructure:"request_timeout"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
}

// TTSConfig holds pipeline-wide settings. Per-request generation knobs live
// in tts.Settings and are picked through presets.
type TTSConfig struct {
	Preset           string  `mapstructure:"preset"`
	Voice            string  `mapstructure:"voice"`
	BatchSize        int     `mapstructure:"batch_size"`
	Preload          bool    `mapstructure:"preload"`
	Redaction        bool    `mapstructure:"redaction"`
	RedactionMode    string  `mapstructure:"redaction_mode"`
	InputSampleRate  int     `mapstructure:"input_sample_rate"`
	OutputSampleRate int     `mapstructure:"output_sample_rate"`
	Tokenizer        string  `mapstructure:"tokenizer"`
	CVVPAmount       float64 `mapstructure:"cvvp_amount"`
	CondFreeRamp     bool    `mapstructure:"cond_free_ramp"`
	ReclaimMemory    bool    `mapstructure:"reclaim_memory"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ONNXManifest:   "models/tortoise/manifest.json",
			TokenizerModel: "models/tortoise/tokenizer.json",
			PresetsFile:    "",
			VoicesDir:      "voices",
			AlignerVocab:   "",
		},
		Runtime: RuntimeConfig{
			Threads:        4,
			ORTLibraryPath: "",
			ORTVersion:     "",
			ORTAPIVersion:  23,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         1,
			MaxTextBytes:    4096,
			RequestTimeout:  600,
			ShutdownTimeout: 30,
			RateLimit:       0,
			RateBurst:       1,
		},
		TTS: TTSConfig{
			Preset:           "fast",
			Voice:            "random",
			BatchSize:        16,
			Preload:          false,
			Redaction:        true,
			RedactionMode:    RedactionMute,
			InputSampleRate:  22050,
			OutputSampleRate: 24000,
			Tokenizer:        TokenizerBPE,
			CVVPAmount:       0,
			CondFreeRamp:     false,
			ReclaimMemory:    true,
		},
		LogLevel:  "info",
		LogFormat: LogFormatJSON,
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-onnx-manifest", defaults.Paths.ONNXManifest, "Path to the ONNX graph manifest")
	fs.String("paths-tokenizer-model", defaults.Paths.TokenizerModel, "Path to tokenizer.json (bpe) or .model (sentencepiece)")
	fs.String("paths-presets-file", defaults.Paths.PresetsFile, "Optional YAML file with extra generation presets")
	fs.String("paths-voices-dir", defaults.Paths.VoicesDir, "Directory of reference voices (one subdirectory per voice)")
	fs.String("paths-aligner-vocab", defaults.Paths.AlignerVocab, "Optional vocab.json for the redaction aligner")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "Worker goroutines for per-clip feature extraction")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Int("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent synthesis requests")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum text size accepted by POST /tts")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request synthesis timeout in seconds")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Float64("server-rate-limit", defaults.Server.RateLimit, "Requests per second accepted by POST /tts (0 disables)")
	fs.Int("server-rate-burst", defaults.Server.RateBurst, "Burst size for the request rate limiter")
	fs.String("tts-preset", defaults.TTS.Preset, "Generation preset (ultra_fast|fast|standard|high_quality or custom)")
	fs.String("tts-voice", defaults.TTS.Voice, "Voice name from the voices directory ('random' for random latents)")
	fs.Int("tts-batch-size", defaults.TTS.BatchSize, "Autoregressive samples generated per batch")
	fs.Bool("tts-preload", defaults.TTS.Preload, "Keep every model resident between stages")
	fs.Bool("tts-redaction", defaults.TTS.Redaction, "Redact [bracketed] text from the spoken output")
	fs.String("tts-redaction-mode", defaults.TTS.RedactionMode, "Redaction mode (mute|cut)")
	fs.Int("tts-input-sample-rate", defaults.TTS.InputSampleRate, "Sample rate of reference clips fed to the models")
	fs.Int("tts-output-sample-rate", defaults.TTS.OutputSampleRate, "Sample rate of generated audio")
	fs.String("tts-tokenizer", defaults.TTS.Tokenizer, "Tokenizer kind (bpe|sentencepiece)")
	fs.Float64("tts-cvvp-amount", defaults.TTS.CVVPAmount, "Weight of the voice scorer when ranking candidates [0,1]")
	fs.Bool("tts-cond-free-ramp", defaults.TTS.CondFreeRamp, "Ramp conditioning-free guidance down towards the last denoising step")
	fs.Bool("tts-reclaim-memory", defaults.TTS.ReclaimMemory, "Return freed memory to the OS after each synthesis call")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("log-format", defaults.LogFormat, "Log format (json|text)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlagKeys(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("TORTOISETTS")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "TORTOISETTS_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("tortoisetts")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate normalizes enum fields in place and rejects values the pipeline
// cannot run with.
func (c *Config) Validate() error {
	tok, err := NormalizeTokenizer(c.TTS.Tokenizer)
	if err != nil {
		return err
	}
	c.TTS.Tokenizer = tok

	mode, err := NormalizeRedactionMode(c.TTS.RedactionMode)
	if err != nil {
		return err
	}
	c.TTS.RedactionMode = mode

	format, err := NormalizeLogFormat(c.LogFormat)
	if err != nil {
		return err
	}
	c.LogFormat = format

	if c.TTS.CVVPAmount < 0 || c.TTS.CVVPAmount > 1 {
		return fmt.Errorf("tts.cvvp_amount must be within [0,1], got %v", c.TTS.CVVPAmount)
	}
	if c.TTS.InputSampleRate < 1 || c.TTS.OutputSampleRate < 1 {
		return fmt.Errorf("sample rates must be positive (input=%d output=%d)", c.TTS.InputSampleRate, c.TTS.OutputSampleRate)
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.onnx_manifest", c.Paths.ONNXManifest)
	v.SetDefault("paths.tokenizer_model", c.Paths.TokenizerModel)
	v.SetDefault("paths.presets_file", c.Paths.PresetsFile)
	v.SetDefault("paths.voices_dir", c.Paths.VoicesDir)
	v.SetDefault("paths.aligner_vocab", c.Paths.AlignerVocab)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit", c.Server.RateLimit)
	v.SetDefault("server.rate_burst", c.Server.RateBurst)
	v.SetDefault("tts.preset", c.TTS.Preset)
	v.SetDefault("tts.voice", c.TTS.Voice)
	v.SetDefault("tts.batch_size", c.TTS.BatchSize)
	v.SetDefault("tts.preload", c.TTS.Preload)
	v.SetDefault("tts.redaction", c.TTS.Redaction)
	v.SetDefault("tts.redaction_mode", c.TTS.RedactionMode)
	v.SetDefault("tts.input_sample_rate", c.TTS.InputSampleRate)
	v.SetDefault("tts.output_sample_rate", c.TTS.OutputSampleRate)
	v.SetDefault("tts.tokenizer", c.TTS.Tokenizer)
	v.SetDefault("tts.cvvp_amount", c.TTS.CVVPAmount)
	v.SetDefault("tts.cond_free_ramp", c.TTS.CondFreeRamp)
	v.SetDefault("tts.reclaim_memory", c.TTS.ReclaimMemory)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
}

// flagKeys maps dashed flag names onto dotted config keys. Flags are bound
// per key so nested config file values and env vars keep working.
var flagKeys = []struct{ flag, key string }{
	{"paths-onnx-manifest", "paths.onnx_manifest"},
	{"paths-tokenizer-model", "paths.tokenizer_model"},
	{"paths-presets-file", "paths.presets_file"},
	{"paths-voices-dir", "paths.voices_dir"},
	{"paths-aligner-vocab", "paths.aligner_vocab"},
	{"runtime-threads", "runtime.threads"},
	{"runtime-ort-library-path", "runtime.ort_library_path"},
	{"runtime-ort-version", "runtime.ort_version"},
	{"runtime-ort-api-version", "runtime.ort_api_version"},
	{"server-listen-addr", "server.listen_addr"},
	{"server-workers", "server.workers"},
	{"server-max-text-bytes", "server.max_text_bytes"},
	{"server-request-timeout", "server.request_timeout"},
	{"server-shutdown-timeout", "server.shutdown_timeout"},
	{"server-rate-limit", "server.rate_limit"},
	{"server-rate-burst", "server.rate_burst"},
	{"tts-preset", "tts.preset"},
	{"tts-voice", "tts.voice"},
	{"tts-batch-size", "tts.batch_size"},
	{"tts-preload", "tts.preload"},
	{"tts-redaction", "tts.redaction"},
	{"tts-redaction-mode", "tts.redaction_mode"},
	{"tts-input-sample-rate", "tts.input_sample_rate"},
	{"tts-output-sample-rate", "tts.output_sample_rate"},
	{"tts-tokenizer", "tts.tokenizer"},
	{"tts-cvvp-amount", "tts.cvvp_amount"},
	{"tts-cond-free-ramp", "tts.cond_free_ramp"},
	{"tts-reclaim-memory", "tts.reclaim_memory"},
	{"log-level", "log_level"},
	{"log-format", "log_format"},
}

func bindFlagKeys(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", fk.flag, err)
		}
	}

	// --ort-lib wins over --runtime-ort-library-path when set explicitly.
	if f := fs.Lookup("ort-lib"); f != nil && f.Changed {
		if err := v.BindPFlag("runtime.ort_library_path", f); err != nil {
			return fmt.Errorf("bind flag %q: %w", "ort-lib", err)
		}
	}

	return nil
}
