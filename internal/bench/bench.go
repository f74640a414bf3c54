// Package bench provides benchmarking primitives for the tortoisetts bench command.
package bench

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and audio metadata for a single synthesis run.
type RunResult struct {
	Index         int
	Cold          bool // true for the first run (cold-start)
	Duration      time.Duration
	AudioDuration time.Duration
	RTF           float64
	// Stages is the time spent in each pipeline stage during the run.
	Stages map[string]time.Duration
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	Median time.Duration
}

// ComputeStats calculates min, max, mean and median over a slice of durations.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return Stats{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / time.Duration(len(sorted)),
		Median: median,
	}
}

// Durations extracts the wall-clock duration of every run.
func Durations(runs []RunResult) []time.Duration {
	out := make([]time.Duration, len(runs))
	for i, r := range runs {
		out[i] = r.Duration
	}
	return out
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns synthesis_duration / audio_duration.
// Returns 0 if audioDur is zero to avoid division by zero.
func CalcRTF(synthDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(synthDur) / float64(audioDur)
}

// AudioDuration is the playback length of samples at sampleRate.
func AudioDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}

// MeanRTF averages the realtime factor over runs.
func MeanRTF(runs []RunResult) float64 {
	if len(runs) == 0 {
		return 0
	}
	var total float64
	for _, r := range runs {
		total += r.RTF
	}
	return total / float64(len(runs))
}

// ---------------------------------------------------------------------------
// RTF threshold gate
// ---------------------------------------------------------------------------

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stage recording
// ---------------------------------------------------------------------------

// StageRecorder accumulates stage timings reported by the pipeline. Observe
// matches the signature of the service's stage hook.
type StageRecorder struct {
	mu     sync.Mutex
	stages map[string]time.Duration
}

// Observe adds d to the running total for stage.
func (r *StageRecorder) Observe(stage string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stages == nil {
		r.stages = make(map[string]time.Duration)
	}
	r.stages[stage] += d
}

// Take returns the totals gathered since the previous Take and resets them.
func (r *StageRecorder) Take() map[string]time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.stages
	r.stages = nil
	if out == nil {
		out = map[string]time.Duration{}
	}
	return out
}

// StageMean is the mean time of one stage across runs.
type StageMean struct {
	Stage string
	Mean  time.Duration
	Share float64
}

// StageMeans averages each stage over all runs, most expensive first. Share
// is the stage's fraction of the summed stage means.
func StageMeans(runs []RunResult) []StageMean {
	if len(runs) == 0 {
		return nil
	}

	totals := map[string]time.Duration{}
	for _, r := range runs {
		for stage, d := range r.Stages {
			totals[stage] += d
		}
	}

	var all time.Duration
	means := make([]StageMean, 0, len(totals))
	for stage, d := range totals {
		m := d / time.Duration(len(runs))
		all += m
		means = append(means, StageMean{Stage: stage, Mean: m})
	}
	for i := range means {
		if all > 0 {
			means[i].Share = float64(means[i].Mean) / float64(all)
		}
	}

	slices.SortFunc(means, func(a, b StageMean) int {
		if c := cmp.Compare(b.Mean, a.Mean); c != 0 {
			return c
		}
		return strings.Compare(a.Stage, b.Stage)
	})
	return means
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %12s  %8s\n", "Run", "Cold", "MS", "Audio(ms)", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 48))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %12.1f  %8.3f\n",
			r.Index+1,
			cold,
			float64(r.Duration.Milliseconds()),
			float64(r.AudioDuration.Milliseconds()),
			r.RTF,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 48))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %12s  %8s  (min)\n", "", "", float64(stats.Min.Milliseconds()), "", "")
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %12s  %8s  (median)\n", "", "", float64(stats.Median.Milliseconds()), "", "")
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %12s  %8s  (mean)\n", "", "", float64(stats.Mean.Milliseconds()), "", "")
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %12s  %8s  (max)\n", "", "", float64(stats.Max.Milliseconds()), "", "")

	if stages := StageMeans(runs); len(stages) > 0 {
		fmt.Fprintln(sb)
		fmt.Fprintf(sb, "%-24s  %10s  %6s\n", "Stage", "Mean(ms)", "Share")
		fmt.Fprintln(sb, strings.Repeat("-", 44))
		for _, s := range stages {
			fmt.Fprintf(sb, "%-24s  %10.1f  %5.1f%%\n", s.Stage, float64(s.Mean.Microseconds())/1000, 100*s.Share)
		}
	}

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs   []jsonRun   `json:"runs"`
	Stats  jsonStats   `json:"stats"`
	Stages []jsonStage `json:"stages,omitempty"`
}

type jsonRun struct {
	Index      int                `json:"index"`
	Cold       bool               `json:"cold"`
	DurationMS float64            `json:"duration_ms"`
	AudioMS    float64            `json:"audio_ms"`
	RTF        float64            `json:"rtf"`
	StagesMS   map[string]float64 `json:"stages_ms,omitempty"`
}

type jsonStats struct {
	MinMS    float64 `json:"min_ms"`
	MedianMS float64 `json:"median_ms"`
	MeanMS   float64 `json:"mean_ms"`
	MaxMS    float64 `json:"max_ms"`
	MeanRTF  float64 `json:"mean_rtf"`
}

type jsonStage struct {
	Stage  string  `json:"stage"`
	MeanMS float64 `json:"mean_ms"`
	Share  float64 `json:"share"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:    float64(stats.Min.Milliseconds()),
			MedianMS: float64(stats.Median.Milliseconds()),
			MeanMS:   float64(stats.Mean.Milliseconds()),
			MaxMS:    float64(stats.Max.Milliseconds()),
			MeanRTF:  MeanRTF(runs),
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: float64(r.Duration.Milliseconds()),
			AudioMS:    float64(r.AudioDuration.Milliseconds()),
			RTF:        r.RTF,
		}
		if len(r.Stages) > 0 {
			jr.Runs[i].StagesMS = make(map[string]float64, len(r.Stages))
			for stage, d := range r.Stages {
				jr.Runs[i].StagesMS[stage] = float64(d.Microseconds()) / 1000
			}
		}
	}
	for _, s := range StageMeans(runs) {
		jr.Stages = append(jr.Stages, jsonStage{
			Stage:  s.Stage,
			MeanMS: float64(s.Mean.Microseconds()) / 1000,
			Share:  s.Share,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
