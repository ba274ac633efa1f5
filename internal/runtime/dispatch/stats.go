package dispatch

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/meshwire/meshwire/internal/runtime/faults"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// LatencyMetrics summarises handler wall-clock times over a sliding sample
// window.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// ThroughputMetrics summarises call rates over the trailing minute.
type ThroughputMetrics struct {
	CurrentRPS    float64 `json:"current_rps"`
	WindowSeconds float64 `json:"window_seconds"`
	CallsInWindow uint64  `json:"calls_in_window"`
	TotalCalls    uint64  `json:"total_calls"`
}

// ToolStatsSnapshot is the introspection view of one tool's counters.
type ToolStatsSnapshot struct {
	Tool          string            `json:"tool"`
	CallsHandled  uint64            `json:"calls_handled"`
	CallsFailed   uint64            `json:"calls_failed"`
	LastHandledAt time.Time         `json:"last_handled_at"`
	Latency       LatencyMetrics    `json:"latency"`
	Throughput    ThroughputMetrics `json:"throughput"`
	Errors        map[string]uint64 `json:"errors,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
}

// toolStats tracks one registered tool. Faults are broken down by their
// stable code; handler errors without a code count under "handler_error".
type toolStats struct {
	mu sync.Mutex

	tool string

	callsHandled uint64
	callsFailed  uint64
	totalTime    int64
	lastHandled  time.Time
	errorCounts  map[string]uint64
	lastError    string

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

func newToolStats(tool string) *toolStats {
	return &toolStats{
		tool:             tool,
		errorCounts:      map[string]uint64{},
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *toolStats) record(duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callsHandled++
	s.totalTime += int64(duration)
	s.lastHandled = time.Now().UTC()
	s.latencyWindow.Add(duration)
	s.throughputWindow.Add(time.Now())

	if err == nil {
		return
	}
	s.callsFailed++
	code := faults.Code(err)
	if code == "" {
		code = faults.CodeHandlerError
	}
	s.errorCounts[code]++
	s.lastError = err.Error()
}

func (s *toolStats) snapshot() ToolStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := ToolStatsSnapshot{
		Tool:          s.tool,
		CallsHandled:  s.callsHandled,
		CallsFailed:   s.callsFailed,
		LastHandledAt: s.lastHandled,
		Latency:       s.latencyWindow.Snapshot(),
		LastError:     s.lastError,
	}
	if s.callsHandled > 0 {
		snap.Latency.AverageNs = s.totalTime / int64(s.callsHandled)
	}

	tp := s.throughputWindow.Snapshot(time.Now())
	snap.Throughput = ThroughputMetrics{
		CurrentRPS:    tp.CurrentRPS,
		WindowSeconds: tp.WindowSeconds,
		CallsInWindow: uint64(tp.Count),
		TotalCalls:    s.callsHandled,
	}

	if len(s.errorCounts) > 0 {
		snap.Errors = make(map[string]uint64, len(s.errorCounts))
		for code, n := range s.errorCounts {
			snap.Errors[code] = n
		}
	}
	return snap
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw.filled == 0 {
		return metrics
	}

	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	metrics.LastNs = lw.last

	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) Add(now time.Time) {
	tw.samples = append(tw.samples, now)
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) Snapshot(now time.Time) throughputSnapshot {
	if len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
