package services

import (
	"container/heap"
	"sync"
	"time"
)

// queue is a bounded, priority-aware operation queue. Dequeue order is
// priority descending, then creation time ascending (FIFO within the same
// priority). Operations whose ScheduledFor is still in the future are
// skipped in place until eligible.
type queue struct {
	mu       sync.Mutex
	items    opHeap
	capacity int
	seq      uint64
}

func newQueue(capacity int) *queue {
	q := &queue{capacity: capacity}
	heap.Init(&q.items)
	return q
}

// Push enqueues an operation, rejecting with ErrQueueFull at capacity.
func (q *queue) Push(op *Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.push(op)
	return nil
}

// pushRetry re-enqueues a previously dequeued operation for another attempt.
// It bypasses the capacity check: a retry never adds a net new item beyond
// what Push admitted.
func (q *queue) pushRetry(op *Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(op)
}

func (q *queue) push(op *Operation) {
	q.seq++
	op.seq = q.seq
	heap.Push(&q.items, op)
}

// Pop removes and returns the best eligible operation, or nil if none is
// eligible at the given time. The heap top may be deferred while a
// lower-priority operation is ready, so this scans for the best eligible
// entry; queues are small enough that the linear pass does not matter.
func (q *queue) Pop(now time.Time) *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i, op := range q.items {
		if !op.Eligible(now) {
			continue
		}
		if best == -1 || q.items.before(i, best) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	return heap.Remove(&q.items, best).(*Operation)
}

// Len returns the number of queued operations, eligible or not.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// opHeap orders operations by priority descending, then CreatedAt ascending,
// then insertion order.
type opHeap []*Operation

func (h opHeap) Len() int { return len(h) }

func (h opHeap) before(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
		return h[i].CreatedAt.Before(h[j].CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h opHeap) Less(i, j int) bool { return h.before(i, j) }
func (h opHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *opHeap) Push(x interface{}) { *h = append(*h, x.(*Operation)) }
func (h *opHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
