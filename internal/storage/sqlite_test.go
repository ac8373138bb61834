package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Fatalf("migration count changed between opens: %d vs %d", len(v1), len(v2))
	}
	if len(v1) == 0 {
		t.Fatal("no migrations applied")
	}
}

func TestTaskCRUD(t *testing.T) {
	s := openTestStore(t)

	task := Task{
		ID:          "t1",
		Title:       "Write release notes",
		Description: "Cover the sync changes",
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != task.Title {
		t.Errorf("Title = %q, want %q", got.Title, task.Title)
	}
	if got.Status != "open" {
		t.Errorf("Status = %q, want default %q", got.Status, "open")
	}
	if got.Priority != "normal" {
		t.Errorf("Priority = %q, want default %q", got.Priority, "normal")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got.Title = "Write release notes for v2"
	got.Status = "in_progress"
	if err := s.UpdateTask(got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	updated, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask after update: %v", err)
	}
	if updated.Title != "Write release notes for v2" {
		t.Errorf("Title = %q after update", updated.Title)
	}
	if updated.Status != "in_progress" {
		t.Errorf("Status = %q after update", updated.Status)
	}

	if err := s.DeleteTask("t1", false); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := s.GetTask("t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask after delete: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTask_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpdateTask(Task{ID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTask(ghost) = %v, want ErrNotFound", err)
	}
	if err := s.DeleteTask("ghost", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteTask(ghost) = %v, want ErrNotFound", err)
	}
}

func TestSetTaskEmbedding(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateTask(Task{ID: "t1", Title: "A"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.SetTaskEmbedding("t1", "vec-1", "hash-1"); err != nil {
		t.Fatalf("SetTaskEmbedding: %v", err)
	}
	got, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.VectorID != "vec-1" || got.ContentHash != "hash-1" {
		t.Errorf("embedding fields = (%q, %q), want (vec-1, hash-1)", got.VectorID, got.ContentHash)
	}

	if err := s.SetTaskEmbedding("ghost", "v", "h"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetTaskEmbedding(ghost) = %v, want ErrNotFound", err)
	}
}

func TestDependencies(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateTask(Task{ID: id, Title: id}); err != nil {
			t.Fatalf("CreateTask(%s): %v", id, err)
		}
	}

	if err := s.AddDependency("a", "b"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := s.AddDependency("b", "c"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	// Re-adding an existing edge is a no-op.
	if err := s.AddDependency("a", "b"); err != nil {
		t.Fatalf("AddDependency duplicate: %v", err)
	}

	if err := s.AddDependency("a", "a"); err == nil {
		t.Error("self-dependency should be rejected")
	}

	deps, err := s.ListDependencies("b")
	if err != nil {
		t.Fatalf("ListDependencies: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("ListDependencies(b) returned %d edges, want 2", len(deps))
	}

	all, err := s.AllDependencies()
	if err != nil {
		t.Fatalf("AllDependencies: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("AllDependencies returned %d edges, want 2", len(all))
	}

	if err := s.RemoveDependency("a", "b"); err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	if err := s.RemoveDependency("a", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveDependency twice = %v, want ErrNotFound", err)
	}
}

func TestDeleteTaskCascade(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateTask(Task{ID: id, Title: id}); err != nil {
			t.Fatalf("CreateTask(%s): %v", id, err)
		}
	}
	if err := s.AddDependency("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDependency("c", "a"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTask("a", true); err != nil {
		t.Fatalf("DeleteTask cascade: %v", err)
	}

	all, err := s.AllDependencies()
	if err != nil {
		t.Fatalf("AllDependencies: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("cascade delete left %d edges behind", len(all))
	}
}

func TestListTasks_Order(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		task := Task{ID: id, Title: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("CreateTask(%s): %v", id, err)
		}
	}

	tasks, err := s.ListTasks(10)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("ListTasks returned %d, want 3", len(tasks))
	}
	if tasks[0].ID != "new" || tasks[2].ID != "old" {
		t.Errorf("order = [%s %s %s], want newest first", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
}
