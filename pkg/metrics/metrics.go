// Package metrics records latency distributions and event counts of the
// conversion pipeline.
package metrics

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Timed operations.
const (
	OpGetOrConvert = "get_or_convert"
	OpCacheGet     = "cache_get"
	OpCacheSet     = "cache_set"
	OpReadFile     = "read_file"
	OpConvert      = "convert"
)

// Counted events.
const (
	CounterCacheHit        = "cache_hit"
	CounterCacheMiss       = "cache_miss"
	CounterEviction        = "eviction"
	CounterConversionError = "conversion_error"
)

// Recorder tracks latency quantiles per operation using DDSketch, plus plain
// event counters. A nil *Recorder is valid and records nothing.
type Recorder struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	counters         map[string]int64
	relativeAccuracy float64
}

// NewRecorder creates a new recorder.
// relativeAccuracy determines the accuracy of quantile estimates (e.g., 0.01 = 1% accuracy)
func NewRecorder(relativeAccuracy float64) *Recorder {
	return &Recorder{
		sketches:         make(map[string]*ddsketch.DDSketch),
		counters:         make(map[string]int64),
		relativeAccuracy: relativeAccuracy,
	}
}

// Observe records a duration for the given operation.
func (r *Recorder) Observe(operation string, duration time.Duration) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sketch, exists := r.sketches[operation]
	if !exists {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(r.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(0.01)
		}
		r.sketches[operation] = sketch
	}

	// milliseconds
	_ = sketch.Add(float64(duration.Microseconds()) / 1000.0)
}

// Inc adds one to the named counter.
func (r *Recorder) Inc(counter string) {
	if r == nil {
		return
	}

	r.mu.Lock()
	r.counters[counter]++
	r.mu.Unlock()
}

// Time runs fn and records its execution time under operation.
func (r *Recorder) Time(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.Observe(operation, time.Since(start))
	return err
}

// TimeResult runs fn and records its execution time under operation.
func TimeResult[T any](r *Recorder, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	r.Observe(operation, time.Since(start))
	return result, err
}

// Quantile returns the value at the given quantile for the operation.
// quantile should be between 0 and 1 (e.g., 0.5 for median, 0.99 for p99).
func (r *Recorder) Quantile(operation string, quantile float64) (float64, error) {
	if r == nil {
		return 0, fmt.Errorf("no data for operation: %s", operation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sketch, exists := r.sketches[operation]
	if !exists {
		return 0, fmt.Errorf("no data for operation: %s", operation)
	}
	return sketch.GetValueAtQuantile(quantile)
}

// Stats summarizes the latency of one operation, in milliseconds.
type Stats struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Min       float64 `json:"min_ms"`
	P50       float64 `json:"p50_ms"`
	P90       float64 `json:"p90_ms"`
	P95       float64 `json:"p95_ms"`
	P99       float64 `json:"p99_ms"`
	Max       float64 `json:"max_ms"`
}

// Stats returns statistics for the given operation.
func (r *Recorder) Stats(operation string) (Stats, error) {
	if r == nil {
		return Stats{}, fmt.Errorf("no data for operation: %s", operation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sketch, exists := r.sketches[operation]
	if !exists {
		return Stats{}, fmt.Errorf("no data for operation: %s", operation)
	}
	return sketchStats(operation, sketch), nil
}

func sketchStats(operation string, sketch *ddsketch.DDSketch) Stats {
	count := sketch.GetCount()
	if count == 0 {
		return Stats{Operation: operation}
	}

	min, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p95, _ := sketch.GetValueAtQuantile(0.95)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	max, _ := sketch.GetMaxValue()

	return Stats{
		Operation: operation,
		Count:     int64(count),
		Min:       min,
		P50:       p50,
		P90:       p90,
		P95:       p95,
		P99:       p99,
		Max:       max,
	}
}

// AllStats returns statistics for all tracked operations, sorted by name.
func (r *Recorder) AllStats() []Stats {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]Stats, 0, len(r.sketches))
	for operation, sketch := range r.sketches {
		stats = append(stats, sketchStats(operation, sketch))
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Operation < stats[j].Operation
	})
	return stats
}

// Counter returns the current value of the named counter.
func (r *Recorder) Counter(name string) int64 {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Snapshot is a point in time copy of everything recorded.
type Snapshot struct {
	Operations []Stats           `json:"operations"`
	Counters   map[string]int64 `json:"counters"`
}

// Snapshot copies the current statistics and counters.
func (r *Recorder) Snapshot() Snapshot {
	snap := Snapshot{
		Operations: r.AllStats(),
		Counters:   make(map[string]int64),
	}
	if r == nil {
		return snap
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, v := range r.counters {
		snap.Counters[name] = v
	}
	return snap
}

// String returns a human-readable line of the statistics.
func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Operation)
	}
	return fmt.Sprintf("  %s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P95, s.P99, s.Max)
}

// LogValue groups the statistics for structured logging.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("n", s.Count),
		slog.Float64("p50_ms", s.P50),
		slog.Float64("p99_ms", s.P99),
		slog.Float64("max_ms", s.Max),
	)
}
