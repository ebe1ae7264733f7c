// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for drafter LLM operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors,omitempty"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64 `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64 `json:"total_output_tokens,omitempty"`
}

// Snapshot represents the full engine statistics at a point in time.
type Snapshot struct {
	UptimeSeconds      float64            `json:"uptime_seconds"`
	Sessions           int64              `json:"sessions"`
	Send               *OperationSnapshot `json:"send,omitempty"`
	Merge              *OperationSnapshot `json:"merge,omitempty"`
	PageLoad           *OperationSnapshot `json:"page_load,omitempty"`
	AckDelivered       *OperationSnapshot `json:"ack_delivered,omitempty"`
	AckRead            *OperationSnapshot `json:"ack_read,omitempty"`
	AutoReplyFired     *OperationSnapshot `json:"auto_reply_fired,omitempty"`
	AutoReplyCancelled *OperationSnapshot `json:"auto_reply_cancelled,omitempty"`
	Draft              *OperationSnapshot `json:"draft,omitempty"`
	DBQuery            *OperationSnapshot `json:"db_query,omitempty"`
}

// Operation names for the collector.
const (
	OpSend               = "send"
	OpMerge              = "merge"
	OpPageLoad           = "page_load"
	OpAckDelivered       = "ack_delivered"
	OpAckRead            = "ack_read"
	OpAutoReplyFired     = "auto_reply_fired"
	OpAutoReplyCancelled = "auto_reply_cancelled"
	OpDraft              = "draft"
	OpDBQuery            = "db_query"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	sessions  int64
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordError counts a failed operation without timing it.
func (c *Collector) RecordError(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).Errors++
}

// RecordLLMUsage records timing and token usage for a drafter call.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
}

// SessionOpened bumps the live session gauge.
func (c *Collector) SessionOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions++
}

// SessionClosed drops the live session gauge.
func (c *Collector) SessionClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions > 0 {
		c.sessions--
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || (m.Count == 0 && m.Errors == 0) {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
	if m.Count > 0 {
		snap.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Count)
	}
	if m.MinTime == time.Duration(math.MaxInt64) {
		snap.MinTimeMs = 0
	}

	if includeTokens && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:      time.Since(c.startTime).Seconds(),
		Sessions:           c.sessions,
		Send:               snapshotOp(c.ops[OpSend], false),
		Merge:              snapshotOp(c.ops[OpMerge], false),
		PageLoad:           snapshotOp(c.ops[OpPageLoad], false),
		AckDelivered:       snapshotOp(c.ops[OpAckDelivered], false),
		AckRead:            snapshotOp(c.ops[OpAckRead], false),
		AutoReplyFired:     snapshotOp(c.ops[OpAutoReplyFired], false),
		AutoReplyCancelled: snapshotOp(c.ops[OpAutoReplyCancelled], false),
		Draft:              snapshotOp(c.ops[OpDraft], true),
		DBQuery:            snapshotOp(c.ops[OpDBQuery], false),
	}
}
