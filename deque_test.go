package asyncrt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestTask(id TaskID) *Task {
	return newTask(id, func(ctx context.Context) (any, error) { return nil, nil }, DefaultStackSize)
}

func Test_LockFreeDeque_PushPopOrder(t *testing.T) {
	d := NewLockFreeDeque()

	const n = 64
	for i := TaskID(0); i < n; i++ {
		if !d.PushBottom(newTestTask(i)) {
			t.Fatalf("PushBottom failed at %d", i)
		}
	}

	if got := d.Len(); got != n {
		t.Fatalf("Len() = %d, want %d", got, n)
	}

	// PopBottom draws from the same end StealTop does (head), so the owner
	// observes its own queue in FIFO (push) order, not LIFO.
	for i := TaskID(0); i < n; i++ {
		task, ok := d.PopBottom()
		if !ok {
			t.Fatalf("PopBottom exhausted early, expected id %d", i)
		}
		if task.ID() != i {
			t.Fatalf("PopBottom() = %d, want %d", task.ID(), i)
		}
	}

	if _, ok := d.PopBottom(); ok {
		t.Fatal("expected deque to be empty")
	}
}

func Test_LockFreeDeque_FullReturnsFalse(t *testing.T) {
	d := NewLockFreeDeque()
	for i := 0; i < localQueueCapacity; i++ {
		if !d.PushBottom(newTestTask(TaskID(i))) {
			t.Fatalf("PushBottom failed before capacity reached, at %d", i)
		}
	}
	if d.PushBottom(newTestTask(9999)) {
		t.Fatal("PushBottom should fail once the deque is at capacity")
	}
}

// Test_LockFreeDeque_StealExactlyOnce asserts the core correctness property
// from the deque's design: under concurrent owner pop and thief steals, each
// pushed task is observed by exactly one winner.
func Test_LockFreeDeque_StealExactlyOnce(t *testing.T) {
	d := NewLockFreeDeque()

	const n = localQueueCapacity
	for i := TaskID(0); i < n; i++ {
		d.PushBottom(newTestTask(i))
	}

	seen := make([]atomic.Int32, n)

	const thieves = 8
	var wg sync.WaitGroup
	wg.Add(thieves)
	for i := 0; i < thieves; i++ {
		go func() {
			defer wg.Done()
			for {
				task, ok := d.StealTop()
				if !ok {
					if d.Len() == 0 {
						return
					}
					continue
				}
				seen[task.ID()].Add(1)
			}
		}()
	}

	for {
		task, ok := d.PopBottom()
		if !ok {
			break
		}
		seen[task.ID()].Add(1)
	}

	wg.Wait()

	for id, count := range seen {
		if c := count.Load(); c != 1 {
			t.Fatalf("task %d observed %d times, want exactly 1", id, c)
		}
	}
}

func Test_LockFreeDeque_LenBounds(t *testing.T) {
	d := NewLockFreeDeque()
	for i := 0; i < 10; i++ {
		d.PushBottom(newTestTask(TaskID(i)))
	}
	for i := 0; i < 3; i++ {
		d.StealTop()
	}
	if l := d.Len(); l < 0 || l > localQueueCapacity {
		t.Fatalf("Len() = %d out of bounds", l)
	}
}

func Test_LockFreeDeque_StealBatch(t *testing.T) {
	d := NewLockFreeDeque()
	for i := 0; i < 20; i++ {
		d.PushBottom(newTestTask(TaskID(i)))
	}

	batch := d.StealBatch(5)
	if len(batch) != 5 {
		t.Fatalf("StealBatch(5) returned %d tasks, want 5", len(batch))
	}
	for i, task := range batch {
		if task.ID() != TaskID(i) {
			t.Fatalf("StealBatch()[%d] = %d, want %d (FIFO from the top)", i, task.ID(), i)
		}
	}
}
