package asyncrt

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

// Test_Scenario_FanOutAdd implements spec section 8's "Fan-out add"
// end-to-end scenario literally: 10,000 tasks, each folding its own id into
// a shared atomic counter, must sum to 10,000*(10,000-1)/2, and every
// JoinHandle must report Completed.
func Test_Scenario_FanOutAdd(t *testing.T) {
	rt := newTestRuntime(t, WithWorkers(4))

	const n = 10_000
	var sum atomic.Int64
	handles := make([]JoinHandle[struct{}], n)
	for i := 0; i < n; i++ {
		id := int64(i)
		h, err := Spawn(rt, func(ctx context.Context) (struct{}, error) {
			sum.Add(id)
			return struct{}{}, nil
		})
		if err != nil {
			t.Fatalf("Spawn(%d) error = %v", i, err)
		}
		handles[i] = h
	}

	for i, h := range handles {
		if _, err := h.Await(context.Background()); err != nil {
			t.Fatalf("handle %d: Await() error = %v", i, err)
		}
		if s := handles[i].State(); s != StateCompleted {
			t.Fatalf("handle %d: task state = %v, want Completed", i, s)
		}
	}

	const want = int64(n) * (int64(n) - 1) / 2
	if got := sum.Load(); got != want {
		t.Fatalf("sum = %d, want %d", got, want)
	}
}

// Test_Scenario_StealFairness implements spec section 8's "Steal fairness"
// scenario: one worker accumulates a burst of trivial tasks (its
// LocalQueue takes the first localQueueCapacity, the rest spill to the
// GlobalQueue as the scheduler's own overflow path does) while a peer sits
// idle; the peer must end up stealing at least a quarter of them (spec's
// literal bound: >=128 of 512).
func Test_Scenario_StealFairness(t *testing.T) {
	rt := newStoppedWorkerPool(t, 2)
	loaded, idle := rt.workers[0], rt.workers[1]

	const n = 512
	for i := TaskID(1); i <= n; i++ {
		task := newIdleTestTask(t, i)
		if loaded.local.PushBottom(task) {
			continue
		}
		if l := loaded.local.Len(); l != localQueueCapacity {
			t.Fatalf("PushBottom(%d) failed with Len() = %d, want a full LocalQueue", i, l)
		}
		rt.global.Push(task)
	}

	stolen := 0
	for {
		_, ok := idle.steal()
		if !ok {
			break
		}
		stolen++
		for {
			if _, ok := idle.local.PopBottom(); !ok {
				break
			}
			stolen++
		}
	}

	if stolen < 128 {
		t.Fatalf("idle worker stole %d tasks, want >= 128 of %d", stolen, n)
	}
}

// Test_Scenario_GlobalOverflow implements spec section 8's "Global
// overflow" scenario: spawning far more tasks than a single worker's
// LocalQueue (capacity 256) can hold must spill the excess into the
// GlobalQueue rather than lose or block on it, and every task still
// completes.
func Test_Scenario_GlobalOverflow(t *testing.T) {
	rt := newTestRuntime(t, WithWorkers(1))

	const n = 100_000
	var completed atomic.Int64
	var peak atomic.Int64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if depth := int64(rt.global.Length()); depth > peak.Load() {
				peak.Store(depth)
			}
			runtime.Gosched()
		}
	}()

	handles := make([]JoinHandle[struct{}], n)
	for i := 0; i < n; i++ {
		h, err := Spawn(rt, func(ctx context.Context) (struct{}, error) {
			completed.Add(1)
			return struct{}{}, nil
		})
		if err != nil {
			t.Fatalf("Spawn(%d) error = %v", i, err)
		}
		handles[i] = h
	}

	for i, h := range handles {
		if _, err := h.Await(context.Background()); err != nil {
			t.Fatalf("handle %d: Await() error = %v", i, err)
		}
	}
	close(stop)
	<-done

	if got := completed.Load(); got != n {
		t.Fatalf("completed = %d, want %d (no task lost)", got, n)
	}
	if p := peak.Load(); p < 99_000 {
		t.Fatalf("GlobalQueue peak depth = %d, want >= 99000", p)
	}
}

// Test_Scenario_Preemption implements spec section 8's "Preemption"
// scenario: a single worker runs a busy task that cooperatively checkpoints
// via YieldNow; a trivial second task queued behind it must still complete
// within 50ms, and the busy task must have been flagged for preemption at
// least 40 times over its 500ms run.
func Test_Scenario_Preemption(t *testing.T) {
	rt := newTestRuntime(t, WithWorkers(1), WithPreemptQuantum(10*time.Millisecond), WithMetrics(true))

	busyDone := make(chan struct{})
	_, err := Spawn(rt, func(ctx context.Context) (struct{}, error) {
		defer close(busyDone)
		deadline := time.Now().Add(500 * time.Millisecond)
		for time.Now().Before(deadline) {
			YieldNow(ctx)
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Spawn(busy) error = %v", err)
	}

	start := time.Now()
	second, err := Spawn(rt, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Spawn(second) error = %v", err)
	}

	if _, err := second.Await(context.Background()); err != nil {
		t.Fatalf("second task Await() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("second task completed in %v, want <= 50ms", elapsed)
	}

	<-busyDone
	if got := rt.Metrics().Queue.PreemptTotal(); got < 40 {
		t.Fatalf("preempt count = %d, want >= 40", got)
	}
}
