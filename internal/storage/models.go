package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Task is the authoritative record for a unit of work. The primary store is
// the source of truth; the vector and graph stores are derived from it.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      string // "open", "in_progress", "done", "cancelled"
	Priority    string // "low", "normal", "high", "critical"
	ContentHash string // fingerprint of the embeddable fields at last embedding
	VectorID    string // ID of the task's record in the vector store, if any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Dependency is a directed edge between tasks: FromID depends on ToID.
type Dependency struct {
	FromID    string
	ToID      string
	CreatedAt time.Time
}
