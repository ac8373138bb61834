package services

import (
	"testing"
	"time"
)

func TestOptimizeScheduler_RejectsBadSpec(t *testing.T) {
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: newFakeVectors(),
		Graph:   newFakeGraph(),
	})
	if _, err := NewOptimizeScheduler(m, "not a cron spec"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestOptimizeScheduler_EnqueuesOnCadence(t *testing.T) {
	vectors := newFakeVectors()
	graphIdx := newFakeGraph()
	m := newTestManager(t, Deps{
		Tasks:   newFakeTasks(),
		Vectors: vectors,
		Graph:   graphIdx,
	})
	startManager(t, m)

	sched, err := NewOptimizeScheduler(m, "* * * * * *") // every second
	if err != nil {
		t.Fatalf("NewOptimizeScheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	if !eventually(3*time.Second, func() bool {
		vectors.mu.Lock()
		n := vectors.optimizes
		vectors.mu.Unlock()
		return n >= 1
	}) {
		t.Fatal("scheduled optimization never ran")
	}
}
