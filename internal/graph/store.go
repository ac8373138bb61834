package graph

import (
	"context"
	"time"
)

// Store is the interface for the dependency graph backend. The contract is
// node upsert, edge upsert, detach-delete, and outgoing-edge traversal;
// the sync services do not assume anything about the underlying query
// language beyond that.
type Store interface {
	// UpsertNode inserts the node or updates its properties in place.
	UpsertNode(ctx context.Context, n Node) error

	// DeleteNode removes the node and every edge touching it. Removing a
	// node that was never stored is a no-op, not an error.
	DeleteNode(ctx context.Context, id string) error

	// UpsertEdge records a directed dependency edge. Idempotent.
	UpsertEdge(ctx context.Context, fromID, toID string) error

	// DeleteEdge removes the edge if present. Idempotent.
	DeleteEdge(ctx context.Context, fromID, toID string) error

	// Outgoing returns the IDs this node points at. Used for path traversal.
	Outgoing(ctx context.Context, id string) ([]string, error)

	// Edges returns every edge in the graph.
	Edges(ctx context.Context) ([]Edge, error)

	// Optimize runs index maintenance and returns what was done.
	Optimize(ctx context.Context) (OptimizeStats, error)
}

// Node is a task's projection into the dependency graph.
type Node struct {
	ID        string
	Title     string
	Status    string
	UpdatedAt time.Time
}

// Edge is a directed dependency: FromID depends on ToID.
type Edge struct {
	FromID string
	ToID   string
}

// OptimizeStats summarizes one maintenance pass over the graph indices.
type OptimizeStats struct {
	Nodes    int           `json:"nodes"`
	Edges    int           `json:"edges"`
	Duration time.Duration `json:"duration"`
}
