// Package server exposes the synthesis service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/example/go-tortoise-tts/internal/audio"
	"github.com/example/go-tortoise-tts/internal/config"
	"github.com/example/go-tortoise-tts/internal/text"
	"github.com/example/go-tortoise-tts/internal/tts"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Synthesizer runs synthesis calls and aborts the one in flight.
type Synthesizer interface {
	Synthesize(ctx context.Context, in tts.Input) (*tts.Result, error)
	Stop() bool
}

// Catalog lists the voices and presets a request may name.
type Catalog interface {
	Voices() []tts.Voice
	Presets() []tts.Preset
}

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	rateLimit      float64
	rateBurst      int
	logger         *slog.Logger
	metrics        *Metrics
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		workers:        1,
		requestTimeout: 10 * time.Minute,
		rateBurst:      1,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes for POST /tts.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of synthesis calls admitted at once.
// The orchestrator still runs them one at a time.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithRateLimit admits at most rps synthesis requests per second with the
// given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = rps
		o.rateBurst = burst
	}
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

type handler struct {
	synth   Synthesizer
	catalog Catalog
	opts    options
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewHandler returns an http.Handler serving /health, /voices, /presets,
// POST /tts, POST /stop and, with metrics, /metrics.
func NewHandler(synth Synthesizer, catalog Catalog, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		synth:   synth,
		catalog: catalog,
		opts:    opts,
		log:     opts.logger,
	}
	if opts.workers > 0 {
		h.sem = semaphore.NewWeighted(int64(opts.workers))
	}
	if opts.rateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(opts.rateLimit), max(1, opts.rateBurst))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /voices", h.handleVoices)
	mux.HandleFunc("GET /presets", h.handlePresets)
	mux.HandleFunc("POST /tts", h.handleTTS)
	mux.HandleFunc("POST /stop", h.handleStop)
	if opts.metrics != nil {
		mux.Handle("GET /metrics", opts.metrics.handler())
	}
	return withRequestID(mux)
}

type requestIDKey struct{}

// RequestID returns the id withRequestID attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID tags every request with the caller's X-Request-ID or a fresh
// UUID and echoes it in the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.catalog.Voices()
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

func (h *handler) handlePresets(w http.ResponseWriter, _ *http.Request) {
	presets := h.catalog.Presets()
	if presets == nil {
		presets = []tts.Preset{}
	}
	writeJSON(w, http.StatusOK, presets)
}

func (h *handler) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := h.synth.Stop()
	h.log.InfoContext(r.Context(), "stop requested", slog.String("request_id", RequestID(r.Context())), slog.Bool("stopped", stopped))
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// ttsRequest is the POST /tts body. Generation overrides sit at the top level
// next to text and voice.
type ttsRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Preset string `json:"preset"`
	Seed   *int64 `json:"seed"`
	tts.Overrides
}

func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := RequestID(ctx)

	if h.limiter != nil && !h.limiter.Allow() {
		h.count("rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req ttsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(h.opts.maxTextBytes)+64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.count("bad_request")
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		h.count("bad_request")
		writeError(w, http.StatusBadRequest, "text field is required")
		return
	}
	if len(req.Text) > h.opts.maxTextBytes {
		h.count("bad_request")
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	if m := h.opts.metrics; m != nil {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
	}

	if h.sem != nil {
		if err := h.sem.Acquire(ctx, 1); err != nil {
			h.count("cancelled")
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer h.sem.Release(1)
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.requestTimeout)
	defer cancel()

	attrs := []any{
		slog.String("request_id", reqID),
		slog.String("voice", req.Voice),
		slog.String("preset", req.Preset),
		slog.Int("text_len", len(req.Text)),
	}

	start := time.Now()
	res, err := h.synth.Synthesize(ctx, tts.Input{
		Text:      req.Text,
		Voice:     req.Voice,
		Preset:    req.Preset,
		Overrides: req.Overrides,
		Seed:      req.Seed,
	})
	elapsed := time.Since(start)
	attrs = append(attrs, slog.Int64("duration_ms", elapsed.Milliseconds()))

	if err != nil {
		status, msg, label := classify(err)
		h.count(label)
		attrs = append(attrs, slog.String("error", err.Error()))
		if status >= http.StatusInternalServerError {
			h.log.ErrorContext(ctx, "synthesis failed", attrs...)
		} else {
			h.log.WarnContext(ctx, "synthesis rejected", attrs...)
		}
		writeError(w, status, msg)
		return
	}

	wave := res.Waveform()
	wav, err := audio.EncodeWAV(wave, res.SampleRate)
	if err != nil {
		h.count("error")
		h.log.ErrorContext(ctx, "wav encoding failed", append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.count("ok")
	if m := h.opts.metrics; m != nil {
		m.duration.Observe(elapsed.Seconds())
		m.audioSecs.Add(float64(len(wave)) / float64(res.SampleRate))
	}

	h.log.InfoContext(ctx, "synthesis complete", append(attrs,
		slog.Int64("seed", res.Seed),
		slog.Int("wav_bytes", len(wav)),
	)...)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Seed", strconv.FormatInt(res.Seed, 10))
	if len(res.Candidates) > 0 {
		w.Header().Set("X-Candidate", strconv.Itoa(res.Candidates[0].Index))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (h *handler) count(status string) {
	if h.opts.metrics != nil {
		h.opts.metrics.requests.WithLabelValues(status).Inc()
	}
}

// classify maps a synthesis error to an HTTP status, a client message and a
// metrics label.
func classify(err error) (status int, msg, label string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "synthesis timed out", "timeout"
	case errors.Is(err, tts.ErrKilled):
		return http.StatusConflict, "synthesis stopped", "killed"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled", "cancelled"
	case errors.Is(err, tts.ErrNoVoice):
		return http.StatusNotFound, err.Error(), "bad_request"
	case errors.Is(err, tts.ErrTextTooLong), errors.Is(err, tts.ErrUnknownPreset), errors.Is(err, text.ErrEmptyText):
		return http.StatusBadRequest, err.Error(), "bad_request"
	default:
		return http.StatusInternalServerError, err.Error(), "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	tts             *tts.Service
	metrics         *Metrics
	shutdownTimeout time.Duration
}

// New prepares a server. A nil svc is opened from cfg on Start with stage
// timings feeding the server's metrics.
func New(cfg config.Config, svc *tts.Service) *Server {
	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		cfg:             cfg,
		tts:             svc,
		metrics:         NewMetrics(),
		shutdownTimeout: timeout,
	}
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	svc := s.tts
	if svc == nil {
		var err error
		svc, err = tts.NewService(s.cfg, s.metrics.ObserveStage)
		if err != nil {
			return fmt.Errorf("initialize service: %w", err)
		}
		defer svc.Close()
	}

	h := NewHandler(svc, svc,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithRateLimit(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst),
		WithMetrics(s.metrics),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("http server listening", "addr", s.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			// Drain period is over: abort the call still holding the connection.
			svc.Stop()
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks the /health endpoint of a running server.
func ProbeHTTP(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
