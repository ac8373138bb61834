package services

import (
	"context"
	"sync"
	"time"

	"github.com/kalambet/tasksync/internal/graph"
	"github.com/kalambet/tasksync/internal/storage"
	"github.com/kalambet/tasksync/internal/vector"
)

// fakeVectors is an in-memory VectorIndex.
type fakeVectors struct {
	mu          sync.Mutex
	records     map[string]vector.Record // by record ID
	upsertErr   error
	deleteErr   error
	optimizeErr error
	upserts     int
	optimizes   int
	upsertDelay time.Duration // simulates a slow store; honors ctx
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{records: make(map[string]vector.Record)}
}

func (f *fakeVectors) Upsert(ctx context.Context, collection string, records []vector.Record) error {
	if f.upsertDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.upsertDelay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeVectors) DeleteByTask(ctx context.Context, collection, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, r := range f.records {
		if r.TaskID == taskID {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeVectors) Optimize(ctx context.Context) (vector.OptimizeStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.optimizeErr != nil {
		return vector.OptimizeStats{}, f.optimizeErr
	}
	f.optimizes++
	return vector.OptimizeStats{Collection: "task_vectors", Records: len(f.records)}, nil
}

func (f *fakeVectors) countByTask(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.TaskID == taskID {
			n++
		}
	}
	return n
}

// fakeGraph is an in-memory GraphIndex.
type fakeGraph struct {
	mu            sync.Mutex
	nodes         map[string]graph.Node
	edges         map[string][]string // from -> to list
	upsertNodeErr error
	deleteNodeErr error
	outgoingErr   error
	optimizeErr   error
	optimizes     int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		nodes: make(map[string]graph.Node),
		edges: make(map[string][]string),
	}
}

func (f *fakeGraph) UpsertNode(ctx context.Context, n graph.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertNodeErr != nil {
		return f.upsertNodeErr
	}
	f.nodes[n.ID] = n
	return nil
}

func (f *fakeGraph) DeleteNode(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteNodeErr != nil {
		return f.deleteNodeErr
	}
	delete(f.nodes, id)
	delete(f.edges, id)
	for from, tos := range f.edges {
		kept := tos[:0]
		for _, to := range tos {
			if to != id {
				kept = append(kept, to)
			}
		}
		f.edges[from] = kept
	}
	return nil
}

func (f *fakeGraph) UpsertEdge(ctx context.Context, fromID, toID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, to := range f.edges[fromID] {
		if to == toID {
			return nil
		}
	}
	f.edges[fromID] = append(f.edges[fromID], toID)
	return nil
}

func (f *fakeGraph) Outgoing(ctx context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outgoingErr != nil {
		return nil, f.outgoingErr
	}
	return append([]string(nil), f.edges[id]...), nil
}

func (f *fakeGraph) Optimize(ctx context.Context) (graph.OptimizeStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.optimizeErr != nil {
		return graph.OptimizeStats{}, f.optimizeErr
	}
	f.optimizes++
	return graph.OptimizeStats{Nodes: len(f.nodes)}, nil
}

func (f *fakeGraph) hasNode(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[id]
	return ok
}

// fakeTasks is an in-memory TaskReader.
type fakeTasks struct {
	mu    sync.Mutex
	tasks map[string]storage.Task
}

func newFakeTasks(tasks ...storage.Task) *fakeTasks {
	f := &fakeTasks{tasks: make(map[string]storage.Task)}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTasks) GetTask(id string) (storage.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return storage.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (f *fakeTasks) SetTaskEmbedding(id, vectorID, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.VectorID = vectorID
	t.ContentHash = contentHash
	f.tasks[id] = t
	return nil
}

// fakeEmbedder counts calls and returns a fixed vector.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	vec   []float32
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// eventually polls fn until it returns true or the deadline passes.
func eventually(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fn()
}
