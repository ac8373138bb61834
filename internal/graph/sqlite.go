package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps the dependency graph in two SQLite tables: graph_nodes
// and graph_edges. Upserts use INSERT ... ON CONFLICT so re-syncing the same
// task or edge is idempotent.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for graph operations.
// The graph_nodes and graph_edges tables must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// UpsertNode inserts the node or updates its properties in place.
func (s *SQLiteStore) UpsertNode(ctx context.Context, n Node) error {
	updatedAt := n.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_nodes (id, title, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		n.ID, n.Title, n.Status, updatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting node %s: %w", n.ID, err)
	}
	return nil
}

// DeleteNode removes the node and every edge touching it in one transaction.
// Removing an absent node is a no-op.
func (s *SQLiteStore) DeleteNode(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning detach delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return fmt.Errorf("deleting edges for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting node %s: %w", id, err)
	}
	return tx.Commit()
}

// UpsertEdge records a directed dependency edge. Idempotent.
func (s *SQLiteStore) UpsertEdge(ctx context.Context, fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("node %s cannot depend on itself", fromID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_edges (from_id, to_id, kind, created_at)
		VALUES (?, ?, 'depends_on', ?)
		ON CONFLICT(from_id, to_id, kind) DO NOTHING`,
		fromID, toID, now,
	)
	if err != nil {
		return fmt.Errorf("upserting edge %s -> %s: %w", fromID, toID, err)
	}
	return nil
}

// DeleteEdge removes the edge if present. Idempotent.
func (s *SQLiteStore) DeleteEdge(ctx context.Context, fromID, toID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM graph_edges WHERE from_id = ? AND to_id = ?`, fromID, toID); err != nil {
		return fmt.Errorf("deleting edge %s -> %s: %w", fromID, toID, err)
	}
	return nil
}

// Outgoing returns the IDs this node points at, ordered by insertion time.
func (s *SQLiteStore) Outgoing(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_id FROM graph_edges WHERE from_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("querying outgoing edges for %s: %w", id, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		out = append(out, to)
	}
	return out, rows.Err()
}

// Edges returns every edge in the graph.
func (s *SQLiteStore) Edges(ctx context.Context) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_id, to_id FROM graph_edges ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.FromID, &e.ToID); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Optimize refreshes query planner statistics for the graph tables.
func (s *SQLiteStore) Optimize(ctx context.Context) (OptimizeStats, error) {
	start := time.Now()

	var nodes, edges int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_nodes`).Scan(&nodes); err != nil {
		return OptimizeStats{}, fmt.Errorf("counting nodes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_edges`).Scan(&edges); err != nil {
		return OptimizeStats{}, fmt.Errorf("counting edges: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE graph_nodes`); err != nil {
		return OptimizeStats{}, fmt.Errorf("analyzing nodes: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE graph_edges`); err != nil {
		return OptimizeStats{}, fmt.Errorf("analyzing edges: %w", err)
	}

	return OptimizeStats{
		Nodes:    nodes,
		Edges:    edges,
		Duration: time.Since(start),
	}, nil
}
