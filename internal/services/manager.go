package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tasksync/internal/config"
)

// Deps holds everything the manager needs. Vectors and Graph may be nil,
// which disables the corresponding store; the services degrade gracefully.
type Deps struct {
	Config   config.Config
	Tasks    TaskReader
	Vectors  VectorIndex
	Graph    GraphIndex
	Embedder Embedder
	Logger   *slog.Logger

	// PollInterval controls how often idle workers re-check their queue.
	// Zero means the 250ms default.
	PollInterval time.Duration
}

// Manager owns the four background services, their queues, and their worker
// pools. All operation scheduling goes through Schedule; no other component
// may enqueue directly.
type Manager struct {
	deps   Deps
	logger *slog.Logger

	workerCount int
	queueSize   int
	opTimeout   time.Duration
	retryDelay  time.Duration
	maxRetries  int
	poll        time.Duration

	mu          sync.Mutex
	initialized bool
	running     bool
	services    map[ServiceType]*serviceRuntime

	done chan struct{}
	wg   sync.WaitGroup
}

// serviceRuntime binds one service to its queue, flags, and counters.
type serviceRuntime struct {
	svc      Service
	queue    *queue
	enabled  atomic.Bool
	inflight atomic.Int64
	metrics  metrics
}

// NewManager creates an uninitialized manager. Call Initialize before use.
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := deps.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Manager{
		deps:   deps,
		logger: logger,
		poll:   poll,
	}
}

// Initialize validates configuration and constructs all four services and
// their queues. Idempotent; does not start workers.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	cfg := m.deps.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	opTimeout, err := cfg.OperationTimeout()
	if err != nil {
		return fmt.Errorf("invalid config: operation_timeout: %w", err)
	}
	retryDelay, err := cfg.RetryDelay()
	if err != nil {
		return fmt.Errorf("invalid config: retry_delay: %w", err)
	}

	m.workerCount = cfg.Services.WorkerCount
	m.queueSize = cfg.Services.QueueSize
	m.opTimeout = opTimeout
	m.retryDelay = retryDelay
	m.maxRetries = cfg.Services.MaxRetries

	built := map[ServiceType]Service{
		AutoEmbedding:     NewEmbedService(m.deps.Tasks, m.deps.Vectors, m.deps.Embedder),
		CycleDetection:    NewCycleService(m.deps.Graph),
		IncrementalSync:   NewSyncService(m.deps.Vectors, m.deps.Graph),
		IndexOptimization: NewOptimizeService(m.deps.Vectors, m.deps.Graph),
	}

	m.services = make(map[ServiceType]*serviceRuntime, len(built))
	for t, svc := range built {
		rt := &serviceRuntime{svc: svc, queue: newQueue(m.queueSize)}
		rt.enabled.Store(true)
		m.services[t] = rt
	}

	m.initialized = true
	m.logger.Info("service manager initialized",
		"workers_per_service", m.workerCount,
		"queue_size", m.queueSize,
		"vector_store", m.deps.Vectors != nil,
		"graph_store", m.deps.Graph != nil,
	)
	return nil
}

// Start launches the worker pool for every service. No-op if already running.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	if m.running {
		return nil
	}

	m.done = make(chan struct{})
	for t, rt := range m.services {
		for i := 0; i < m.workerCount; i++ {
			m.wg.Add(1)
			go m.worker(t, rt)
		}
	}
	m.running = true
	m.logger.Info("service workers started", "services", len(m.services), "workers_per_service", m.workerCount)
	return nil
}

// Stop signals all workers to finish their in-flight operation and exit,
// then waits for them. Queued operations are left in place. Waiting is
// bounded by the operation timeout plus a grace period; shutdown past that
// deadline is best-effort, not transactional.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	close(m.done)
	m.running = false
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		m.logger.Info("service workers stopped")
		return nil
	case <-time.After(m.opTimeout + 5*time.Second):
		m.logger.Warn("service workers did not stop before deadline")
		return fmt.Errorf("workers still busy after %s", m.opTimeout+5*time.Second)
	}
}

// Schedule constructs an operation and pushes it onto the queue for the
// service type. Returns the operation ID, or ErrQueueFull when the queue is
// at capacity. Scheduling succeeds even for a disabled service; the
// operation waits in the queue until the service is re-enabled.
func (m *Manager) Schedule(service ServiceType, opType, targetID string, payload Payload, priority Priority) (string, error) {
	return m.ScheduleAt(service, opType, targetID, payload, priority, time.Time{})
}

// ScheduleAt is Schedule with a future eligibility time for deferred work.
func (m *Manager) ScheduleAt(service ServiceType, opType, targetID string, payload Payload, priority Priority, runAt time.Time) (string, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return "", ErrNotInitialized
	}
	rt, ok := m.services[service]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown service type %q", service)
	}

	if err := validatePayload(service, payload); err != nil {
		return "", err
	}

	op := &Operation{
		ID:           uuid.New().String(),
		Service:      service,
		Type:         opType,
		Priority:     priority,
		TargetID:     targetID,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
		ScheduledFor: runAt,
		MaxRetries:   m.maxRetries,
	}

	if err := rt.queue.Push(op); err != nil {
		return "", fmt.Errorf("scheduling %s for %s: %w", opType, service, err)
	}

	m.logger.Debug("operation scheduled",
		"operation_id", op.ID, "service", service, "type", opType,
		"target", targetID, "priority", priority.String())
	return op.ID, nil
}

// SetServiceEnabled toggles whether workers drain the service's queue.
// A disabled service still accepts scheduled operations.
func (m *Manager) SetServiceEnabled(service ServiceType, enabled bool) error {
	m.mu.Lock()
	rt, ok := m.services[service]
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}
	if !ok {
		return fmt.Errorf("unknown service type %q", service)
	}
	rt.enabled.Store(enabled)
	m.logger.Info("service toggled", "service", service, "enabled", enabled)
	return nil
}

// ValidateDependency runs cycle detection inline for a proposed edge so the
// caller can refuse to persist it. This bypasses the queue on purpose: the
// answer is needed before the edge is committed.
func (m *Manager) ValidateDependency(ctx context.Context, fromID, toID string) (CycleResult, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return CycleResult{}, ErrNotInitialized
	}
	rt := m.services[CycleDetection]
	m.mu.Unlock()

	cs, ok := rt.svc.(*CycleService)
	if !ok {
		return CycleResult{}, fmt.Errorf("cycle detection service unavailable")
	}
	return cs.Check(ctx, fromID, toID)
}

// worker drains one service's queue until the manager stops. Idle workers
// poll; the interval keeps scheduled_for deferrals cheap to honor.
func (m *Manager) worker(t ServiceType, rt *serviceRuntime) {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		default:
		}

		if !rt.enabled.Load() {
			m.idle()
			continue
		}

		op := rt.queue.Pop(time.Now())
		if op == nil {
			m.idle()
			continue
		}

		m.execute(t, rt, op)
	}
}

func (m *Manager) idle() {
	select {
	case <-m.done:
	case <-time.After(m.poll):
	}
}

// execute runs one operation under the operation timeout and applies the
// retry policy. Failures are isolated per operation and never propagate to
// the scheduling caller; they surface through metrics and logs only.
func (m *Manager) execute(t ServiceType, rt *serviceRuntime, op *Operation) {
	rt.inflight.Add(1)
	defer rt.inflight.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), m.opTimeout)
	start := time.Now()
	result, err := rt.svc.Process(ctx, op)
	elapsed := time.Since(start)
	cancel()

	if err == nil {
		rt.metrics.recordCompleted(elapsed)
		if result != nil && !result.Succeeded() {
			m.logger.Warn("operation finished degraded",
				"operation_id", op.ID, "service", t, "type", op.Type, "target", op.TargetID)
		} else {
			m.logger.Debug("operation completed",
				"operation_id", op.ID, "service", t, "type", op.Type, "duration", elapsed)
		}
		return
	}

	if IsPermanent(err) || op.Retries >= op.MaxRetries {
		rt.metrics.recordFailed()
		m.logger.Error("operation failed terminally",
			"operation_id", op.ID, "service", t, "type", op.Type,
			"target", op.TargetID, "retries", op.Retries, "error", err)
		return
	}

	op.Retries++
	backoff := m.retryDelay << (op.Retries - 1)
	op.ScheduledFor = time.Now().Add(backoff)
	rt.queue.pushRetry(op)
	rt.metrics.recordRetried()
	m.logger.Warn("operation failed, retrying",
		"operation_id", op.ID, "service", t, "type", op.Type,
		"retry", op.Retries, "backoff", backoff, "error", err)
}

// ServiceSnapshot is the externally visible state of one service.
type ServiceSnapshot struct {
	Service    ServiceType     `json:"service"`
	Status     Status          `json:"status"`
	Enabled    bool            `json:"enabled"`
	QueueDepth int             `json:"queue_depth"`
	Metrics    MetricsSnapshot `json:"metrics"`
}

// OverallSnapshot aggregates all services plus manager-level flags.
type OverallSnapshot struct {
	Initialized     bool                            `json:"initialized"`
	Running         bool                            `json:"running"`
	Status          Status                          `json:"status"`
	VectorConnected bool                            `json:"vector_connected"`
	GraphConnected  bool                            `json:"graph_connected"`
	Services        map[ServiceType]ServiceSnapshot `json:"services"`
}

// ServiceStatus returns the current status, enabled flag, and metrics
// snapshot for one service.
func (m *Manager) ServiceStatus(service ServiceType) (ServiceSnapshot, error) {
	m.mu.Lock()
	initialized, running := m.initialized, m.running
	rt, ok := m.services[service]
	m.mu.Unlock()

	if !initialized {
		return ServiceSnapshot{}, ErrNotInitialized
	}
	if !ok {
		return ServiceSnapshot{}, fmt.Errorf("unknown service type %q", service)
	}
	return m.snapshotService(service, rt, running), nil
}

func (m *Manager) snapshotService(t ServiceType, rt *serviceRuntime, running bool) ServiceSnapshot {
	status := StatusStopped
	switch {
	case !running:
		status = StatusStopped
	case rt.svc.Degraded():
		status = StatusDegraded
	case rt.inflight.Load() > 0:
		status = StatusRunning
	default:
		status = StatusIdle
	}
	return ServiceSnapshot{
		Service:    t,
		Status:     status,
		Enabled:    rt.enabled.Load(),
		QueueDepth: rt.queue.Len(),
		Metrics:    rt.metrics.snapshot(),
	}
}

// OverallStatus aggregates every service plus the manager flags. The
// aggregate status is the worst of the per-service statuses.
func (m *Manager) OverallStatus() OverallSnapshot {
	m.mu.Lock()
	initialized, running := m.initialized, m.running
	services := m.services
	m.mu.Unlock()

	snap := OverallSnapshot{
		Initialized:     initialized,
		Running:         running,
		Status:          StatusStopped,
		VectorConnected: m.deps.Vectors != nil,
		GraphConnected:  m.deps.Graph != nil,
		Services:        make(map[ServiceType]ServiceSnapshot, len(services)),
	}
	if !initialized {
		return snap
	}

	worst := StatusIdle
	for t, rt := range services {
		s := m.snapshotService(t, rt, running)
		snap.Services[t] = s
		if statusRank(s.Status) > statusRank(worst) {
			worst = s.Status
		}
	}
	if running {
		snap.Status = worst
	}
	return snap
}

func statusRank(s Status) int {
	switch s {
	case StatusIdle:
		return 0
	case StatusRunning:
		return 1
	case StatusStopped:
		return 2
	case StatusDegraded:
		return 3
	case StatusError:
		return 4
	default:
		return 0
	}
}
