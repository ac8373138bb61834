package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/tasksync/internal/graph"
	"github.com/kalambet/tasksync/internal/vector"
)

// SyncService propagates create/update/delete events from the primary store
// to the vector and graph stores. Either store may be nil (disabled); the
// service degrades gracefully and reports per-store flags.
type SyncService struct {
	vectors VectorIndex // nil when the vector store is disabled
	graph   GraphIndex  // nil when the graph store is disabled
	logger  *slog.Logger
}

// NewSyncService creates the incremental sync service. Pass nil for a
// disabled store.
func NewSyncService(vectors VectorIndex, graphIdx GraphIndex) *SyncService {
	return &SyncService{
		vectors: vectors,
		graph:   graphIdx,
		logger:  slog.Default(),
	}
}

func (s *SyncService) Type() ServiceType { return IncrementalSync }

// Degraded reports true when either secondary store is disabled.
func (s *SyncService) Degraded() bool {
	return s.vectors == nil || s.graph == nil
}

// SyncResult reports per-store outcomes for one sync operation.
// Success is true only if every enabled store succeeded; a disabled store
// reports false for its flag but is excluded from the success calculation.
type SyncResult struct {
	TaskID       string `json:"task_id"`
	Success      bool   `json:"success"`
	VectorSynced bool   `json:"vector_synced"`
	GraphSynced  bool   `json:"graph_synced"`
	Error        string `json:"error,omitempty"`
}

func (r SyncResult) Succeeded() bool { return r.Success }

// Process attempts the vector sync first, then the graph sync, independently.
// A failure in one store does not skip the other; a transient failure in any
// enabled store returns an error so the full sync is retried (syncs are
// idempotent, so re-running the succeeded side is safe).
func (s *SyncService) Process(ctx context.Context, op *Operation) (Result, error) {
	p, ok := op.Payload.(SyncPayload)
	if !ok {
		return nil, Permanent(fmt.Errorf("sync operation %s carries %T payload", op.ID, op.Payload))
	}

	res := SyncResult{TaskID: p.Task.ID}
	var errs []error

	if s.vectors != nil {
		if err := s.syncVector(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("vector store: %w", err))
		} else {
			res.VectorSynced = true
		}
	}

	if s.graph != nil {
		if err := s.syncGraph(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("graph store: %w", err))
		} else {
			res.GraphSynced = true
		}
	}

	res.Success = (s.vectors == nil || res.VectorSynced) && (s.graph == nil || res.GraphSynced)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		res.Error = err.Error()
		return res, err
	}
	return res, nil
}

func (s *SyncService) syncVector(ctx context.Context, p SyncPayload) error {
	if p.Op == SyncDelete {
		// Deleting a task that never had a record is a no-op, not an error.
		return s.vectors.DeleteByTask(ctx, taskCollection, p.Task.ID)
	}

	rec := vector.Record{
		ID:       "task:" + p.Task.ID,
		TaskID:   p.Task.ID,
		Document: EmbeddingDocument(p.Task.Title, p.Task.Description),
		Metadata: fmt.Sprintf(`{"status":%q,"priority":%q}`, p.Task.Status, p.Task.Priority),
	}
	return s.vectors.Upsert(ctx, taskCollection, []vector.Record{rec})
}

func (s *SyncService) syncGraph(ctx context.Context, p SyncPayload) error {
	if p.Op == SyncDelete {
		return s.graph.DeleteNode(ctx, p.Task.ID)
	}
	return s.graph.UpsertNode(ctx, graph.Node{
		ID:        p.Task.ID,
		Title:     p.Task.Title,
		Status:    p.Task.Status,
		UpdatedAt: time.Now().UTC(),
	})
}
