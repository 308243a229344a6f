package asyncrt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRuntime(t *testing.T, opts ...RuntimeOption) *Runtime {
	t.Helper()
	rt, err := New(append([]RuntimeOption{WithWorkers(4), WithPreemptQuantum(0)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt
}

func Test_Spawn_BlockOn_Basic(t *testing.T) {
	rt := newTestRuntime(t)

	v, err := BlockOn(rt, context.Background(), func(ctx context.Context) (int, error) {
		return 21 * 2, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("BlockOn() = (%d, %v), want (42, nil)", v, err)
	}
}

func Test_Spawn_PropagatesError(t *testing.T) {
	rt := newTestRuntime(t)
	wantErr := errors.New("boom")

	_, err := BlockOn(rt, context.Background(), func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func Test_Spawn_RecoversPanic(t *testing.T) {
	rt := newTestRuntime(t)

	handle, err := Spawn(rt, func(ctx context.Context) (int, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	_, err = handle.Await(context.Background())
	var panicErr PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("err = %v, want PanicError", err)
	}
}

func Test_Spawn_FanOut(t *testing.T) {
	rt := newTestRuntime(t)

	const n = 500
	handles := make([]JoinHandle[int], n)
	for i := 0; i < n; i++ {
		i := i
		h, err := Spawn(rt, func(ctx context.Context) (int, error) {
			return i * i, nil
		})
		if err != nil {
			t.Fatalf("Spawn(%d) error = %v", i, err)
		}
		handles[i] = h
	}

	for i, h := range handles {
		v, err := h.Await(context.Background())
		if err != nil || v != i*i {
			t.Fatalf("handle %d: Await() = (%d, %v), want (%d, nil)", i, v, err, i*i)
		}
	}
}

func Test_Spawn_StealUnderImbalance(t *testing.T) {
	rt := newTestRuntime(t)

	// Spawning a large burst quickly should spill across workers via the
	// shared queues and/or stealing, not stall on one worker alone.
	const n = 2000
	var completed atomic.Int64
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

	for _, h := range handles {
		if _, err := h.Await(context.Background()); err != nil {
			t.Fatalf("Await() error = %v", err)
		}
	}

	if got := completed.Load(); got != n {
		t.Fatalf("completed = %d, want %d", got, n)
	}
}

func Test_Spawn_NestedSpawn(t *testing.T) {
	rt := newTestRuntime(t)

	outer, err := Spawn(rt, func(ctx context.Context) (int, error) {
		inner, err := Spawn(rt, func(ctx context.Context) (int, error) {
			return 10, nil
		})
		if err != nil {
			return 0, err
		}
		return inner.Await(ctx)
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	v, err := outer.Await(context.Background())
	if err != nil || v != 10 {
		t.Fatalf("Await() = (%d, %v), want (10, nil)", v, err)
	}
}

func Test_BlockOn_ReentrantRejected(t *testing.T) {
	rt := newTestRuntime(t)

	handle, err := Spawn(rt, func(ctx context.Context) (int, error) {
		return BlockOn(rt, ctx, func(ctx context.Context) (int, error) {
			return 1, nil
		})
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	_, err = handle.Await(context.Background())
	if !errors.Is(err, ErrReentrantBlockOn) {
		t.Fatalf("err = %v, want ErrReentrantBlockOn", err)
	}
}

func Test_BlockOn_RejectsAfterShutdown(t *testing.T) {
	rt, err := New(WithWorkers(2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_, err = BlockOn(rt, context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	})
	if !errors.Is(err, ErrRuntimeShutdown) {
		t.Fatalf("err = %v, want ErrRuntimeShutdown", err)
	}
}

func Test_Shutdown_CancelsPendingTasks(t *testing.T) {
	rt, err := New(WithWorkers(2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	handle, err := Spawn(rt, func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-release:
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if _, err := handle.Await(context.Background()); err == nil {
		t.Fatal("task should observe an error once the runtime context is cancelled")
	}
}

func Test_Shutdown_Idempotent(t *testing.T) {
	rt, err := New(WithWorkers(1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}

func Test_YieldNow_OutsideWorker_NoPanic(t *testing.T) {
	YieldNow(context.Background())
}

func Test_Metrics_RecordsLatency(t *testing.T) {
	rt := newTestRuntime(t, WithMetrics(true))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		h, err := Spawn(rt, func(ctx context.Context) (int, error) {
			defer wg.Done()
			return 1, nil
		})
		if err != nil {
			t.Fatalf("Spawn() error = %v", err)
		}
		go func() { _, _ = h.Await(context.Background()) }()
	}
	wg.Wait()

	n := rt.Metrics().Run.Sample()
	if n == 0 {
		t.Fatal("expected at least one recorded Run latency sample")
	}
}
