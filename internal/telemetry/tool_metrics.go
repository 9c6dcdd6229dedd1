// Package telemetry tracks per-tool call metrics for the MCP server.
// All data stays in process - no external reporting.
package telemetry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP100   LatencyBucket = "p100"   // <100ms
	BucketP500   LatencyBucket = "p500"   // 100-500ms
	BucketP1000  LatencyBucket = "p1000"  // 500ms-1s
	BucketP5000  LatencyBucket = "p5000"  // 1-5s
	BucketP30000 LatencyBucket = "p30000" // 5-30s
	BucketSlow   LatencyBucket = "slow"   // >=30s
)

// LatencyToBucket converts a duration to its histogram bucket. Tool calls
// span four orders of magnitude (a cached query vs. a recursive crawl), so
// the buckets run much wider than a search-only histogram would.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	case ms < 1000:
		return BucketP1000
	case ms < 5000:
		return BucketP5000
	case ms < 30000:
		return BucketP30000
	default:
		return BucketSlow
	}
}

// =============================================================================
// Duration Ring
// =============================================================================

// durationRing is a fixed-capacity FIFO of call durations. Percentiles are
// computed over the most recent window rather than the full process history,
// so a slow cold start does not skew p95 forever.
type durationRing struct {
	items    []time.Duration
	head     int
	size     int
	capacity int
}

func newDurationRing(capacity int) *durationRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &durationRing{
		items:    make([]time.Duration, capacity),
		capacity: capacity,
	}
}

func (r *durationRing) add(d time.Duration) {
	r.items[r.head] = d
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// sorted returns the window contents ascending.
func (r *durationRing) sorted() []time.Duration {
	out := make([]time.Duration, r.size)
	if r.size < r.capacity {
		copy(out, r.items[:r.size])
	} else {
		copy(out, r.items[r.head:])
		copy(out[r.capacity-r.head:], r.items[:r.head])
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// percentile returns the nearest-rank percentile of a sorted window.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// =============================================================================
// Tool Metrics
// =============================================================================

// defaultRingSize bounds the per-tool duration window.
const defaultRingSize = 256

type toolStats struct {
	calls        int64
	errors       int64
	errorsByKind map[string]int64
	buckets      map[LatencyBucket]int64
	durations    *durationRing
}

// ToolMetrics accumulates per-tool call counts, error counts by kind, and
// duration percentiles. Safe for concurrent use.
type ToolMetrics struct {
	mu       sync.RWMutex
	since    time.Time
	ringSize int
	tools    map[string]*toolStats
}

// NewToolMetrics creates an empty registry. ringSize bounds the per-tool
// duration window; zero or negative selects the default.
func NewToolMetrics(ringSize int) *ToolMetrics {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &ToolMetrics{
		since:    time.Now().UTC(),
		ringSize: ringSize,
		tools:    make(map[string]*toolStats),
	}
}

// Record registers one completed tool call. A non-nil err counts against
// the tool's error total, keyed by its error kind.
func (m *ToolMetrics) Record(tool string, duration time.Duration, err error) {
	if m == nil || tool == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.tools[tool]
	if !ok {
		stats = &toolStats{
			errorsByKind: make(map[string]int64),
			buckets:      make(map[LatencyBucket]int64),
			durations:    newDurationRing(m.ringSize),
		}
		m.tools[tool] = stats
	}

	stats.calls++
	stats.buckets[LatencyToBucket(duration)]++
	stats.durations.add(duration)
	if err != nil {
		stats.errors++
		stats.errorsByKind[string(lserrors.GetKind(err))]++
	}
}

// =============================================================================
// Snapshot
// =============================================================================

// ToolSnapshot is one tool's aggregated metrics at snapshot time.
type ToolSnapshot struct {
	Tool         string                  `json:"tool"`
	Calls        int64                   `json:"calls"`
	Errors       int64                   `json:"errors"`
	ErrorsByKind map[string]int64        `json:"errors_by_kind,omitempty"`
	Latency      map[LatencyBucket]int64 `json:"latency"`
	P50Millis    int64                   `json:"p50_ms"`
	P95Millis    int64                   `json:"p95_ms"`
	P99Millis    int64                   `json:"p99_ms"`
}

// MetricsSnapshot is an immutable view of all tool metrics.
type MetricsSnapshot struct {
	Since       time.Time      `json:"since"`
	TotalCalls  int64          `json:"total_calls"`
	TotalErrors int64          `json:"total_errors"`
	Tools       []ToolSnapshot `json:"tools"`
}

// Snapshot returns current metrics, tools sorted by name.
func (m *ToolMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{Since: m.since}
	for name, stats := range m.tools {
		window := stats.durations.sorted()
		ts := ToolSnapshot{
			Tool:      name,
			Calls:     stats.calls,
			Errors:    stats.errors,
			Latency:   make(map[LatencyBucket]int64, len(stats.buckets)),
			P50Millis: percentile(window, 0.50).Milliseconds(),
			P95Millis: percentile(window, 0.95).Milliseconds(),
			P99Millis: percentile(window, 0.99).Milliseconds(),
		}
		for bucket, count := range stats.buckets {
			ts.Latency[bucket] = count
		}
		if len(stats.errorsByKind) > 0 {
			ts.ErrorsByKind = make(map[string]int64, len(stats.errorsByKind))
			for kind, count := range stats.errorsByKind {
				ts.ErrorsByKind[kind] = count
			}
		}
		snap.TotalCalls += stats.calls
		snap.TotalErrors += stats.errors
		snap.Tools = append(snap.Tools, ts)
	}
	sort.Slice(snap.Tools, func(i, j int) bool { return snap.Tools[i].Tool < snap.Tools[j].Tool })
	return snap
}

// LogSummary writes one log line per tool plus a total. Called on shutdown.
func (m *ToolMetrics) LogSummary(log *slog.Logger) {
	if m == nil || log == nil {
		return
	}
	snap := m.Snapshot()
	if snap.TotalCalls == 0 {
		return
	}
	for _, tool := range snap.Tools {
		log.Info("tool metrics",
			"tool", tool.Tool,
			"calls", tool.Calls,
			"errors", tool.Errors,
			"p50_ms", tool.P50Millis,
			"p95_ms", tool.P95Millis,
			"p99_ms", tool.P99Millis,
		)
	}
	log.Info("tool metrics total",
		"tools", len(snap.Tools),
		"calls", snap.TotalCalls,
		"errors", snap.TotalErrors,
		"since", snap.Since,
	)
}
