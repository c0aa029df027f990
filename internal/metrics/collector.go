package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records per-send metrics in a thread-safe manner. It covers a
// single run; Reset clears it when a new run starts.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByType map[string]int64
}

// Stats represents aggregated send statistics.
type Stats struct {
	Total     int64 `json:"total"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`

	MinLatencyMs  float64        `json:"min_latency_ms"`
	MaxLatencyMs  float64        `json:"max_latency_ms"`
	MeanLatencyMs float64        `json:"mean_latency_ms"`
	P50LatencyMs  float64        `json:"p50_latency_ms"`
	P90LatencyMs  float64        `json:"p90_latency_ms"`
	P99LatencyMs  float64        `json:"p99_latency_ms"`
	Errors        map[string]int `json:"errors,omitempty"`
}

func NewCollector() *Collector {
	c := &Collector{}
	c.reset()
	return c
}

func (c *Collector) reset() {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	c.hist = hdrhistogram.New(1, 60_000_000, 3)
	c.successes = 0
	c.failures = 0
	c.minLatency = 0
	c.maxLatency = 0
	c.sumLatency = 0
	c.errorsByType = make(map[string]int64)
}

// Reset clears all recorded state for a fresh run.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// RecordSend records a single send's latency and error state.
func (c *Collector) RecordSend(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	c.sumLatency += latency

	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}

	if err == nil {
		c.successes++
	} else {
		c.failures++
		errorType := fmt.Sprintf("%T", err)
		if len(errorType) > 30 {
			errorType = errorType[len(errorType)-30:]
		}
		c.errorsByType[errorType]++
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:     total,
		Successes: c.successes,
		Failures:  c.failures,
	}

	var mean time.Duration
	if total > 0 {
		mean = time.Duration(int64(c.sumLatency) / total)
	}

	stats.MinLatencyMs = float64(c.minLatency) / float64(time.Millisecond)
	stats.MaxLatencyMs = float64(c.maxLatency) / float64(time.Millisecond)
	stats.MeanLatencyMs = float64(mean) / float64(time.Millisecond)

	if c.hist.TotalCount() > 0 {
		stats.P50LatencyMs = float64(c.hist.ValueAtQuantile(50)) / 1000
		stats.P90LatencyMs = float64(c.hist.ValueAtQuantile(90)) / 1000
		stats.P99LatencyMs = float64(c.hist.ValueAtQuantile(99)) / 1000
	}

	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}

	return stats
}
