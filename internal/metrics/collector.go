// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"maps"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpGenerateArgument   = "generate_argument"
	OpGenerateConclusion = "generate_conclusion"
	OpAnalyze            = "analyze"
	OpStoreWrite         = "store_write"
)

// Counter names.
const (
	CounterSessionsStarted   = "sessions_started"
	CounterSessionsCompleted = "sessions_completed"
	CounterGenerationErrors  = "generation_errors"
	CounterSlowConsumers     = "slow_consumers"
	CounterCommands          = "commands"
	CounterConnections       = "connections"
	CounterProtocolErrors    = "protocol_errors"
)

// span tracks count, sum and range of one quantity.
type span[T int64 | time.Duration] struct {
	n        int64
	sum      T
	min, max T
}

func (s *span[T]) observe(v T) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	s.n++
	s.sum += v
}

// operation aggregates one operation type. Token spans stay empty for
// operations that do not call a model.
type operation struct {
	latency span[time.Duration]
	input   span[int64]
	output  span[int64]
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds      float64            `json:"uptime_seconds"`
	GenerateArgument   *OperationSnapshot `json:"generate_argument,omitempty"`
	GenerateConclusion *OperationSnapshot `json:"generate_conclusion,omitempty"`
	Analyze            *OperationSnapshot `json:"analyze,omitempty"`
	StoreWrite         *OperationSnapshot `json:"store_write,omitempty"`
	Counters           map[string]int64   `json:"counters"`
}

// Collector aggregates in-memory runtime statistics. All methods are safe for
// concurrent use, and a nil *Collector ignores every call.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*operation
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*operation),
		counters:  make(map[string]int64),
	}
}

// Inc increments a named counter.
func (c *Collector) Inc(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// op returns the aggregate for name. Caller must hold the write lock.
func (c *Collector) op(name string) *operation {
	o, ok := c.ops[name]
	if !ok {
		o = &operation{}
		c.ops[name] = o
	}
	return o
}

// RecordTiming records the latency of an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.op(op).latency.observe(duration)
}

// RecordLLMUsage records latency and token usage of a model call.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.op(op)
	o.latency.observe(duration)
	o.input.observe(inputTokens)
	o.output.observe(outputTokens)
}

func (o *operation) snapshot() *OperationSnapshot {
	if o == nil || o.latency.n == 0 {
		return nil
	}
	l := o.latency
	snap := &OperationSnapshot{
		Count:       l.n,
		TotalTimeMs: l.sum.Milliseconds(),
		AvgTimeMs:   float64(l.sum.Milliseconds()) / float64(l.n),
		MinTimeMs:   l.min.Milliseconds(),
		MaxTimeMs:   l.max.Milliseconds(),
	}

	if o.input.sum == 0 && o.output.sum == 0 {
		return snap
	}
	in, out := o.input, o.output
	avgIn := float64(in.sum) / float64(l.n)
	avgOut := float64(out.sum) / float64(l.n)
	snap.TotalInputTokens, snap.TotalOutputTokens = &in.sum, &out.sum
	snap.AvgInputTokens, snap.AvgOutputTokens = &avgIn, &avgOut
	snap.MinInputTokens, snap.MaxInputTokens = &in.min, &in.max
	snap.MinOutputTokens, snap.MaxOutputTokens = &out.min, &out.max
	return snap
}

// Snapshot returns a point-in-time copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:      time.Since(c.startTime).Seconds(),
		GenerateArgument:   c.ops[OpGenerateArgument].snapshot(),
		GenerateConclusion: c.ops[OpGenerateConclusion].snapshot(),
		Analyze:            c.ops[OpAnalyze].snapshot(),
		StoreWrite:         c.ops[OpStoreWrite].snapshot(),
		Counters:           maps.Clone(c.counters),
	}
}
