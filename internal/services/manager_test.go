package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/tasksync/internal/config"
	"github.com/kalambet/tasksync/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		Services: config.ServicesConfig{
			WorkerCount:      1,
			QueueSize:        8,
			OperationTimeout: "2s",
			RetryDelay:       "5ms",
			MaxRetries:       2,
		},
	}
}

func newTestManager(t *testing.T, deps Deps) *Manager {
	t.Helper()
	if deps.Config.Services.WorkerCount == 0 {
		deps.Config = testConfig()
	}
	if deps.PollInterval == 0 {
		deps.PollInterval = 5 * time.Millisecond
	}
	m := NewManager(deps)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
}

func TestManager_InitializeRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Services.WorkerCount = 0
	m := NewManager(Deps{Config: cfg})
	if err := m.Initialize(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestManager_ScheduleBeforeInitialize(t *testing.T) {
	m := NewManager(Deps{Config: testConfig()})
	_, err := m.Schedule(IncrementalSync, OpSyncTask, "t1",
		SyncPayload{Op: SyncCreate, Task: storage.Task{ID: "t1"}}, PriorityNormal)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestManager_ScheduleRejectsMismatchedPayload(t *testing.T) {
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: newFakeVectors(),
		Graph:   newFakeGraph(),
	})
	_, err := m.Schedule(IncrementalSync, OpSyncTask, "t1",
		EmbedPayload{Task: storage.Task{ID: "t1"}}, PriorityNormal)
	if err == nil {
		t.Fatal("expected payload mismatch error")
	}
}

func TestManager_ScheduleQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Services.QueueSize = 2
	m := newTestManager(t, Deps{
		Config:  cfg,
		Tasks:   newFakeTasks(),
		Vectors: newFakeVectors(),
		Graph:   newFakeGraph(),
	})
	// Workers are not started, so pushes accumulate.
	for i := 0; i < 2; i++ {
		if _, err := m.Schedule(IncrementalSync, OpSyncTask, "t1",
			SyncPayload{Op: SyncCreate, Task: storage.Task{ID: "t1"}}, PriorityNormal); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	_, err := m.Schedule(IncrementalSync, OpSyncTask, "t1",
		SyncPayload{Op: SyncCreate, Task: storage.Task{ID: "t1"}}, PriorityNormal)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestManager_ProcessesSyncOperation(t *testing.T) {
	vectors := newFakeVectors()
	graphIdx := newFakeGraph()
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: vectors,
		Graph:   graphIdx,
	})
	startManager(t, m)

	_, err := m.Schedule(IncrementalSync, OpSyncTask, "t1",
		SyncPayload{Op: SyncCreate, Task: storage.Task{ID: "t1", Title: "Task one"}}, PriorityNormal)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if !eventually(2*time.Second, func() bool {
		return vectors.countByTask("t1") == 1 && graphIdx.hasNode("t1")
	}) {
		t.Fatal("sync operation never applied to both stores")
	}

	snap, err := m.ServiceStatus(IncrementalSync)
	if err != nil {
		t.Fatalf("ServiceStatus: %v", err)
	}
	if snap.Metrics.OperationsCompleted != 1 {
		t.Errorf("completed = %d, want 1", snap.Metrics.OperationsCompleted)
	}
	if snap.Metrics.OperationsFailed != 0 {
		t.Errorf("failed = %d, want 0", snap.Metrics.OperationsFailed)
	}
}

func TestManager_RetryThenTerminalFailure(t *testing.T) {
	vectors := newFakeVectors()
	vectors.upsertErr = errors.New("vector store down")
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: vectors,
		Graph:   newFakeGraph(),
	})
	startManager(t, m)

	_, err := m.Schedule(IncrementalSync, OpSyncTask, "t1",
		SyncPayload{Op: SyncCreate, Task: storage.Task{ID: "t1", Title: "Task one"}}, PriorityNormal)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// MaxRetries is 2: one initial attempt plus two retries, then terminal.
	if !eventually(2*time.Second, func() bool {
		snap, err := m.ServiceStatus(IncrementalSync)
		return err == nil && snap.Metrics.OperationsFailed == 1
	}) {
		t.Fatal("operation never failed terminally")
	}

	snap, err := m.ServiceStatus(IncrementalSync)
	if err != nil {
		t.Fatalf("ServiceStatus: %v", err)
	}
	if snap.Metrics.OperationsRetried != 2 {
		t.Errorf("retried = %d, want 2", snap.Metrics.OperationsRetried)
	}
	if snap.Metrics.OperationsFailed != 1 {
		t.Errorf("failed = %d, want exactly 1", snap.Metrics.OperationsFailed)
	}
	if snap.Metrics.OperationsCompleted != 0 {
		t.Errorf("completed = %d, want 0", snap.Metrics.OperationsCompleted)
	}
}

func TestManager_OperationTimeoutFailsSlowStore(t *testing.T) {
	vectors := newFakeVectors()
	vectors.upsertDelay = 400 * time.Millisecond

	cfg := testConfig()
	cfg.Services.OperationTimeout = "50ms"
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: vectors,
		Graph:   newFakeGraph(),
		Config:  cfg,
	})
	startManager(t, m)

	_, err := m.Schedule(IncrementalSync, OpSyncTask, "t1",
		SyncPayload{Op: SyncCreate, Task: storage.Task{ID: "t1", Title: "Task one"}}, PriorityNormal)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Every attempt overruns the 50ms deadline inside the store write, so
	// the operation must be retried and then fail, never recorded completed.
	if !eventually(3*time.Second, func() bool {
		snap, err := m.ServiceStatus(IncrementalSync)
		return err == nil && snap.Metrics.OperationsFailed == 1
	}) {
		t.Fatal("slow store write never failed the operation")
	}

	snap, err := m.ServiceStatus(IncrementalSync)
	if err != nil {
		t.Fatalf("ServiceStatus: %v", err)
	}
	if snap.Metrics.OperationsRetried != 2 {
		t.Errorf("retried = %d, want 2", snap.Metrics.OperationsRetried)
	}
	if snap.Metrics.OperationsCompleted != 0 {
		t.Errorf("completed = %d, want 0", snap.Metrics.OperationsCompleted)
	}
}

func TestManager_DisabledServiceHoldsQueue(t *testing.T) {
	vectors := newFakeVectors()
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: vectors,
		Graph:   newFakeGraph(),
	})
	startManager(t, m)

	if err := m.SetServiceEnabled(IncrementalSync, false); err != nil {
		t.Fatalf("SetServiceEnabled: %v", err)
	}

	_, err := m.Schedule(IncrementalSync, OpSyncTask, "t1",
		SyncPayload{Op: SyncCreate, Task: storage.Task{ID: "t1", Title: "Task one"}}, PriorityNormal)
	if err != nil {
		t.Fatalf("Schedule while disabled: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if vectors.countByTask("t1") != 0 {
		t.Fatal("disabled service drained its queue")
	}
	snap, _ := m.ServiceStatus(IncrementalSync)
	if snap.QueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", snap.QueueDepth)
	}

	if err := m.SetServiceEnabled(IncrementalSync, true); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if !eventually(2*time.Second, func() bool { return vectors.countByTask("t1") == 1 }) {
		t.Fatal("re-enabled service never drained its queue")
	}
}

func TestManager_DeferredOperationNotRunEarly(t *testing.T) {
	vectors := newFakeVectors()
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: vectors,
		Graph:   newFakeGraph(),
	})
	startManager(t, m)

	_, err := m.ScheduleAt(IncrementalSync, OpSyncTask, "t1",
		SyncPayload{Op: SyncCreate, Task: storage.Task{ID: "t1", Title: "Task one"}},
		PriorityNormal, time.Now().Add(120*time.Millisecond))
	if err != nil {
		t.Fatalf("ScheduleAt: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if vectors.countByTask("t1") != 0 {
		t.Fatal("deferred operation executed before its scheduled time")
	}
	if !eventually(2*time.Second, func() bool { return vectors.countByTask("t1") == 1 }) {
		t.Fatal("deferred operation never executed")
	}
}

func TestManager_ValidateDependency(t *testing.T) {
	graphIdx := newFakeGraph()
	if err := graphIdx.UpsertEdge(context.Background(), "A", "B"); err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: newFakeVectors(),
		Graph:   graphIdx,
	})

	res, err := m.ValidateDependency(context.Background(), "B", "A")
	if err != nil {
		t.Fatalf("ValidateDependency: %v", err)
	}
	if res.CyclesFound != 1 {
		t.Errorf("cycles = %d, want 1", res.CyclesFound)
	}

	res, err = m.ValidateDependency(context.Background(), "A", "C")
	if err != nil {
		t.Fatalf("ValidateDependency: %v", err)
	}
	if res.CyclesFound != 0 {
		t.Errorf("cycles = %d, want 0", res.CyclesFound)
	}
}

func TestManager_OverallStatus(t *testing.T) {
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: newFakeVectors(),
		Graph:   nil, // graph store disabled
	})

	snap := m.OverallStatus()
	if !snap.Initialized || snap.Running {
		t.Errorf("flags = %+v", snap)
	}
	if snap.Status != StatusStopped {
		t.Errorf("status before start = %s", snap.Status)
	}
	if snap.VectorConnected != true || snap.GraphConnected != false {
		t.Errorf("connectivity flags = %v/%v", snap.VectorConnected, snap.GraphConnected)
	}

	startManager(t, m)

	snap = m.OverallStatus()
	if !snap.Running {
		t.Error("running flag not set after Start")
	}
	// Three of the four services depend on the graph store, so the
	// aggregate degrades.
	if snap.Status != StatusDegraded {
		t.Errorf("aggregate status = %s, want %s", snap.Status, StatusDegraded)
	}
	if len(snap.Services) != 4 {
		t.Errorf("services = %d, want 4", len(snap.Services))
	}
}

func TestManager_StartStopIdempotent(t *testing.T) {
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: newFakeVectors(),
		Graph:   newFakeGraph(),
	})
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
