package services

import (
	"sync"
	"time"
)

// metrics tracks per-service counters. All counters are monotonically
// non-decreasing; nothing resets them except process restart.
type metrics struct {
	mu              sync.Mutex
	completed       uint64
	failed          uint64
	retried         uint64
	totalProcessing time.Duration
}

func (m *metrics) recordCompleted(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	m.totalProcessing += d
}

func (m *metrics) recordFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *metrics) recordRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

// MetricsSnapshot is a point-in-time copy of a service's counters.
type MetricsSnapshot struct {
	OperationsCompleted uint64        `json:"operations_completed"`
	OperationsFailed    uint64        `json:"operations_failed"`
	OperationsRetried   uint64        `json:"operations_retried"`
	AvgProcessing       time.Duration `json:"avg_processing_ns"`
}

func (m *metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if m.completed > 0 {
		avg = m.totalProcessing / time.Duration(m.completed)
	}
	return MetricsSnapshot{
		OperationsCompleted: m.completed,
		OperationsFailed:    m.failed,
		OperationsRetried:   m.retried,
		AvgProcessing:       avg,
	}
}
