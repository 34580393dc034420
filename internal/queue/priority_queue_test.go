package queue

import (
	"math/rand"
	"sort"
	"testing"
)

func TestDequeueOrdersByPriority(t *testing.T) {
	q := New[string]()
	q.Enqueue("low", 10)
	q.Enqueue("critical", 40)
	q.Enqueue("medium", 20)
	q.Enqueue("high", 30)

	want := []string{"critical", "high", "medium", "low"}
	for _, expected := range want {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("queue exhausted early, wanted %q", expected)
		}
		if got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("expected empty queue after draining")
	}
}

func TestEqualPrioritiesAreFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		q.Enqueue(i, 5)
	}
	for i := 0; i < 100; i++ {
		got, ok := q.Dequeue()
		if !ok || got != i {
			t.Fatalf("expected %d in FIFO order, got %d (ok=%v)", i, got, ok)
		}
	}
}

func TestMixedPrioritiesStable(t *testing.T) {
	// Random priorities; verify non-increasing priority order and FIFO within
	// each priority level.
	type entry struct {
		id       int
		priority int
	}
	q := New[entry]()
	rng := rand.New(rand.NewSource(42))
	var entries []entry
	for i := 0; i < 500; i++ {
		e := entry{id: i, priority: rng.Intn(5)}
		entries = append(entries, e)
		q.Enqueue(e, e.priority)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})

	for i, expected := range entries {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("queue exhausted at %d", i)
		}
		if got != expected {
			t.Fatalf("position %d: expected %+v, got %+v", i, expected, got)
		}
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New[string]()
	if _, ok := q.Peek(); ok {
		t.Error("peek on empty queue should report not ok")
	}
	q.Enqueue("a", 1)
	q.Enqueue("b", 2)

	top, ok := q.Peek()
	if !ok || top != "b" {
		t.Fatalf("expected peek to return 'b', got %q (ok=%v)", top, ok)
	}
	if q.Len() != 2 {
		t.Errorf("peek mutated the queue, len=%d", q.Len())
	}
}

func TestClear(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		q.Enqueue(i, i)
	}
	q.Clear()
	if !q.IsEmpty() || q.Len() != 0 {
		t.Errorf("expected empty queue after clear, len=%d", q.Len())
	}
	// Queue remains usable after clear
	q.Enqueue(7, 7)
	if got, ok := q.Dequeue(); !ok || got != 7 {
		t.Errorf("expected 7 after clear+enqueue, got %d (ok=%v)", got, ok)
	}
}
