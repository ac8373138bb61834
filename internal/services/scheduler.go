package services

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// OptimizeScheduler re-enqueues index optimization on a cron cadence. The
// manager's queue handles the execution; this only decides when the next
// occurrence is due.
type OptimizeScheduler struct {
	cron    *cron.Cron
	manager *Manager
	logger  *slog.Logger
}

// NewOptimizeScheduler creates a scheduler from a cron expression with
// seconds precision (e.g. "0 0 3 * * *" for daily at 03:00).
func NewOptimizeScheduler(m *Manager, spec string) (*OptimizeScheduler, error) {
	s := &OptimizeScheduler{
		cron:    cron.New(cron.WithSeconds()),
		manager: m,
		logger:  slog.Default(),
	}
	if _, err := s.cron.AddFunc(spec, s.enqueue); err != nil {
		return nil, fmt.Errorf("invalid optimize schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *OptimizeScheduler) enqueue() {
	opID, err := s.manager.Schedule(
		IndexOptimization,
		OpOptimizeIndices,
		TargetGlobal,
		OptimizePayload{TriggeredBy: "schedule"},
		PriorityLow,
	)
	if err != nil {
		// A full queue just means this occurrence is skipped; the next
		// cadence tick tries again.
		if errors.Is(err, ErrQueueFull) {
			s.logger.Warn("optimization skipped, queue full")
			return
		}
		s.logger.Error("scheduling optimization failed", "error", err)
		return
	}
	s.logger.Debug("periodic optimization scheduled", "operation_id", opID)
}

// Start begins firing the cadence.
func (s *OptimizeScheduler) Start() {
	s.cron.Start()
}

// Stop halts the cadence; an enqueue already in flight completes.
func (s *OptimizeScheduler) Stop() {
	<-s.cron.Stop().Done()
}
