package services

import (
	"fmt"
	"time"
)

// ServiceType identifies which background service owns an operation.
type ServiceType string

const (
	AutoEmbedding     ServiceType = "auto_embedding"
	CycleDetection    ServiceType = "cycle_detection"
	IncrementalSync   ServiceType = "incremental_sync"
	IndexOptimization ServiceType = "index_optimization"
)

// ServiceTypes lists every service in a stable order.
var ServiceTypes = []ServiceType{AutoEmbedding, CycleDetection, IncrementalSync, IndexOptimization}

// ParseServiceType validates a service type string.
func ParseServiceType(s string) (ServiceType, error) {
	t := ServiceType(s)
	for _, known := range ServiceTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown service type %q", s)
}

// Operation type tags, interpreted by the owning service.
const (
	OpSyncTask        = "sync_task"
	OpEmbedTask       = "embed_task"
	OpCheckCycles     = "check_cycles"
	OpOptimizeIndices = "optimize_indices"
)

// Priority determines dequeue order within a queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps a priority name to its ordered value.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Operation is a unit of deferred cross-store work. ID and Service are
// immutable after creation; Retries is advanced by the worker that owns
// the operation.
type Operation struct {
	ID           string
	Service      ServiceType
	Type         string
	Priority     Priority
	TargetID     string
	Payload      Payload
	CreatedAt    time.Time
	ScheduledFor time.Time // zero means eligible immediately
	Retries      int
	MaxRetries   int

	seq uint64 // queue insertion order, assigned at push
}

// TargetGlobal is the TargetID for system-wide operations such as index
// optimization.
const TargetGlobal = "global"

// Eligible reports whether the operation may be dequeued at the given time.
func (o *Operation) Eligible(now time.Time) bool {
	return o.ScheduledFor.IsZero() || !o.ScheduledFor.After(now)
}

// Status is per-service runtime state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)
