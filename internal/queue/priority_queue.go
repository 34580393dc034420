// Package queue provides a stable max-priority queue used by the message
// router. Higher numeric priority dequeues first; entries with equal priority
// dequeue in insertion order.
package queue

import "container/heap"

type item[T any] struct {
	value    T
	priority int
	seq      uint64
	index    int
}

type itemHeap[T any] []*item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	// FIFO among equal priorities
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	it := x.(*item[T])
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// PriorityQueue is a stable max-priority queue. It is not safe for concurrent
// use; the router is the sole mutator and serializes access.
type PriorityQueue[T any] struct {
	heap itemHeap[T]
	seq  uint64
}

// New creates an empty priority queue.
func New[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{heap: make(itemHeap[T], 0)}
}

// Enqueue inserts value with the given priority in O(log n).
func (q *PriorityQueue[T]) Enqueue(value T, priority int) {
	q.seq++
	heap.Push(&q.heap, &item[T]{value: value, priority: priority, seq: q.seq})
}

// Dequeue removes and returns the highest-priority value. The second return
// is false when the queue is empty.
func (q *PriorityQueue[T]) Dequeue() (T, bool) {
	if len(q.heap) == 0 {
		var zero T
		return zero, false
	}
	it := heap.Pop(&q.heap).(*item[T])
	return it.value, true
}

// Peek returns the highest-priority value without removing it.
func (q *PriorityQueue[T]) Peek() (T, bool) {
	if len(q.heap) == 0 {
		var zero T
		return zero, false
	}
	return q.heap[0].value, true
}

// Len returns the number of queued values.
func (q *PriorityQueue[T]) Len() int { return len(q.heap) }

// IsEmpty reports whether the queue holds no values.
func (q *PriorityQueue[T]) IsEmpty() bool { return len(q.heap) == 0 }

// Clear removes all values.
func (q *PriorityQueue[T]) Clear() {
	q.heap = q.heap[:0]
}
