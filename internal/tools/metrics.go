package tools

import (
	"sync"
	"time"
)

// Metrics tracks request counts and cumulative latency across all tools.
type Metrics struct {
	mu       sync.RWMutex
	requests int64
	errors   int64
	duration time.Duration
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) RecordRequest(d time.Duration) {
	m.mu.Lock()
	m.requests++
	m.duration += d
	m.mu.Unlock()
}

func (m *Metrics) RecordError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// Snapshot returns current totals.
func (m *Metrics) Snapshot() (requests, errors int64, total time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests, m.errors, m.duration
}
