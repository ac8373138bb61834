package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tasksync/internal/graph"
	"github.com/kalambet/tasksync/internal/vector"
)

// OptimizeService runs maintenance on both secondary-store indices. The two
// stores are optimized independently; one failing does not skip the other.
type OptimizeService struct {
	vectors VectorIndex // nil when the vector store is disabled
	graph   GraphIndex  // nil when the graph store is disabled
	logger  *slog.Logger
}

// NewOptimizeService creates the index optimization service.
func NewOptimizeService(vectors VectorIndex, graphIdx GraphIndex) *OptimizeService {
	return &OptimizeService{
		vectors: vectors,
		graph:   graphIdx,
		logger:  slog.Default(),
	}
}

func (s *OptimizeService) Type() ServiceType { return IndexOptimization }

// Degraded reports true when either secondary store is disabled.
func (s *OptimizeService) Degraded() bool {
	return s.vectors == nil || s.graph == nil
}

// OptimizeResult carries one sub-result per store attempted.
type OptimizeResult struct {
	TriggeredBy string                `json:"triggered_by"`
	Success     bool                  `json:"success"`
	Vector      *vector.OptimizeStats `json:"vector,omitempty"`
	Graph       *graph.OptimizeStats  `json:"graph,omitempty"`
	VectorError string                `json:"vector_error,omitempty"`
	GraphError  string                `json:"graph_error,omitempty"`
}

func (r OptimizeResult) Succeeded() bool { return r.Success }

// Process optimizes both stores concurrently. A transient failure in either
// store returns an error so the whole operation is retried; optimization is
// idempotent, so re-running the succeeded side is harmless.
func (s *OptimizeService) Process(ctx context.Context, op *Operation) (Result, error) {
	p, ok := op.Payload.(OptimizePayload)
	if !ok {
		return nil, Permanent(fmt.Errorf("optimize operation %s carries %T payload", op.ID, op.Payload))
	}

	res := OptimizeResult{TriggeredBy: p.TriggeredBy}
	var errs []error

	g, gCtx := errgroup.WithContext(ctx)

	var vectorStats vector.OptimizeStats
	var vectorErr error
	if s.vectors != nil {
		g.Go(func() error {
			vectorStats, vectorErr = s.vectors.Optimize(gCtx)
			return nil // collected separately; don't cancel the other store
		})
	}

	var graphStats graph.OptimizeStats
	var graphErr error
	if s.graph != nil {
		g.Go(func() error {
			graphStats, graphErr = s.graph.Optimize(gCtx)
			return nil
		})
	}

	g.Wait()

	if s.vectors != nil {
		if vectorErr != nil {
			res.VectorError = vectorErr.Error()
			errs = append(errs, fmt.Errorf("vector store: %w", vectorErr))
		} else {
			res.Vector = &vectorStats
		}
	}
	if s.graph != nil {
		if graphErr != nil {
			res.GraphError = graphErr.Error()
			errs = append(errs, fmt.Errorf("graph store: %w", graphErr))
		} else {
			res.Graph = &graphStats
		}
	}

	res.Success = (s.vectors == nil || vectorErr == nil) && (s.graph == nil || graphErr == nil)

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
