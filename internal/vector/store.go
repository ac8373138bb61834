package vector

import (
	"context"
	"time"
)

// Store is the interface for vector storage backends. The default
// implementation uses SQLite with brute-force cosine similarity; the
// contract is intentionally small so an ANN-capable backend can be
// substituted without touching the sync services.
type Store interface {
	// Upsert inserts or replaces records in the given collection, keyed by ID.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search performs vector similarity search, returning the top-K most
	// similar records.
	Search(collection string, vector []float32, topK int) ([]ScoredRecord, error)

	// GetByTask returns all records belonging to the given task.
	GetByTask(ctx context.Context, collection, taskID string) ([]Record, error)

	// DeleteByTask removes every record for the given task. Removing a task
	// that has no records is a no-op, not an error.
	DeleteByTask(ctx context.Context, collection, taskID string) error

	// Count returns the number of records in the collection.
	Count(collection string) (int, error)

	// Optimize runs index maintenance and returns what was done.
	Optimize(ctx context.Context) (OptimizeStats, error)
}

// Record is a row in the vector store.
type Record struct {
	ID        string
	TaskID    string
	Document  string
	Embedding []float32
	Metadata  string // JSON object stored as text
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// OptimizeStats summarizes one maintenance pass over the vector index.
type OptimizeStats struct {
	Collection string        `json:"collection"`
	Records    int           `json:"records"`
	Duration   time.Duration `json:"duration"`
}
