package services

import (
	"context"

	"github.com/kalambet/tasksync/internal/graph"
	"github.com/kalambet/tasksync/internal/storage"
	"github.com/kalambet/tasksync/internal/vector"
)

// Service executes operations of one ServiceType.
type Service interface {
	Type() ServiceType

	// Process executes a single operation. A nil error means the operation
	// is finished (the Result may still report partial success). A non-nil
	// error is retried unless marked Permanent.
	Process(ctx context.Context, op *Operation) (Result, error)

	// Degraded reports whether a secondary store this service needs is
	// unavailable. A degraded service keeps operating on what's available.
	Degraded() bool
}

// Result is the structured outcome a service reports for one operation.
type Result interface {
	Succeeded() bool
}

// TaskReader is the slice of the primary store the services need.
type TaskReader interface {
	GetTask(id string) (storage.Task, error)
	SetTaskEmbedding(id, vectorID, contentHash string) error
}

// VectorIndex is the slice of the vector store the services need.
// Write methods honor the context deadline so a slow store cannot
// outlive the operation timeout.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, records []vector.Record) error
	DeleteByTask(ctx context.Context, collection, taskID string) error
	Optimize(ctx context.Context) (vector.OptimizeStats, error)
}

// GraphIndex is the slice of the graph store the services need.
type GraphIndex interface {
	UpsertNode(ctx context.Context, n graph.Node) error
	DeleteNode(ctx context.Context, id string) error
	UpsertEdge(ctx context.Context, fromID, toID string) error
	Outgoing(ctx context.Context, id string) ([]string, error)
	Optimize(ctx context.Context) (graph.OptimizeStats, error)
}

// Embedder generates embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// taskCollection is the vector store collection holding task embeddings.
const taskCollection = "task_vectors"
