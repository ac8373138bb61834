package services

import (
	"context"
	"fmt"
	"log/slog"
)

// CycleService validates that a proposed dependency edge does not introduce
// a cycle. It traverses the currently persisted graph plus the proposed
// edge, so the check runs before the edge is committed; the result is
// advisory to the caller, which decides whether to persist.
type CycleService struct {
	graph  GraphIndex // nil when the graph store is disabled
	logger *slog.Logger

	// maxPaths caps how many distinct cycle paths one check reports.
	maxPaths int
}

// NewCycleService creates the cycle detection service.
func NewCycleService(graphIdx GraphIndex) *CycleService {
	return &CycleService{
		graph:    graphIdx,
		logger:   slog.Default(),
		maxPaths: 25,
	}
}

func (s *CycleService) Type() ServiceType { return CycleDetection }

// Degraded reports true when the graph store is disabled.
func (s *CycleService) Degraded() bool { return s.graph == nil }

// CycleResult reports every dependency cycle the proposed edge would close.
// CyclesFound == 0 means the edge is safe to persist. Each path starts at
// the proposed edge's destination, walks persisted edges back to its source,
// and repeats the destination to close the loop.
type CycleResult struct {
	FromID      string     `json:"from_id"`
	ToID        string     `json:"to_id"`
	Success     bool       `json:"success"`
	CyclesFound int        `json:"cycles_found"`
	CyclePaths  [][]string `json:"cycle_paths,omitempty"`
}

func (r CycleResult) Succeeded() bool { return r.Success }

// Process checks the proposed edge in the operation's CyclePayload.
// Finding cycles is still a successful check; only a traversal failure
// (graph store unreachable) errors, and that is transient.
func (s *CycleService) Process(ctx context.Context, op *Operation) (Result, error) {
	p, ok := op.Payload.(CyclePayload)
	if !ok {
		return nil, Permanent(fmt.Errorf("cycle operation %s carries %T payload", op.ID, op.Payload))
	}
	return s.Check(ctx, p.FromID, p.ToID)
}

// Check runs cycle detection for the proposed edge from -> to. It is exposed
// directly so callers can validate an edge synchronously before persisting.
func (s *CycleService) Check(ctx context.Context, from, to string) (CycleResult, error) {
	res := CycleResult{FromID: from, ToID: to}

	if from == to {
		res.Success = true
		res.CyclesFound = 1
		res.CyclePaths = [][]string{{from, from}}
		return res, nil
	}

	if s.graph == nil {
		// Without the graph store the check cannot run; report non-success
		// so the caller does not mistake silence for a clean result.
		s.logger.Warn("graph store disabled, cycle check skipped", "from", from, "to", to)
		return res, nil
	}

	// The proposed edge is from -> to. Any persisted path from `to` back to
	// `from` becomes a cycle once the edge is added.
	var path []string
	onPath := map[string]bool{}

	var walk func(node string) error
	walk = func(node string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(res.CyclePaths) >= s.maxPaths {
			return nil
		}

		path = append(path, node)
		onPath[node] = true
		defer func() {
			path = path[:len(path)-1]
			delete(onPath, node)
		}()

		if node == from {
			// Close the loop through the proposed edge back to `to`.
			cycle := make([]string, 0, len(path)+1)
			cycle = append(cycle, path...)
			cycle = append(cycle, to)
			res.CyclePaths = append(res.CyclePaths, cycle)
			return nil
		}

		next, err := s.graph.Outgoing(ctx, node)
		if err != nil {
			return fmt.Errorf("traversing from %s: %w", node, err)
		}
		for _, n := range next {
			if onPath[n] {
				continue // pre-existing cycle elsewhere; not ours to report
			}
			if err := walk(n); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(to); err != nil {
		return res, err
	}

	res.Success = true
	res.CyclesFound = len(res.CyclePaths)
	return res, nil
}
