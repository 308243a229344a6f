package asyncrt

import (
	"context"
	"errors"
	"testing"
)

func Test_JoinHandle_Await_AlreadyCompleted(t *testing.T) {
	tk := newTestTask(1)
	tk.complete(7, nil)
	h := newJoinHandle[int](tk)

	v, err := h.Await(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("Await() = (%d, %v), want (7, nil)", v, err)
	}
}

func Test_JoinHandle_Await_BlocksUntilComplete(t *testing.T) {
	tk := newTestTask(1)
	h := newJoinHandle[string](tk)

	done := make(chan struct{})
	var result string
	var resultErr error
	go func() {
		result, resultErr = h.Await(context.Background())
		close(done)
	}()

	tk.complete("hello", nil)
	<-done

	if resultErr != nil || result != "hello" {
		t.Fatalf("Await() = (%q, %v), want (\"hello\", nil)", result, resultErr)
	}
}

func Test_JoinHandle_Await_ContextCancelled(t *testing.T) {
	tk := newTestTask(1)
	h := newJoinHandle[int](tk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Await(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Await() err = %v, want context.Canceled", err)
	}
}

func Test_JoinHandle_Cancel(t *testing.T) {
	tk := newTestTask(1)
	h := newJoinHandle[int](tk)
	h.Cancel()

	if h.State() != StateCancelled {
		t.Fatalf("State() = %v, want Cancelled", h.State())
	}
}

func Test_joinFuture_Poll(t *testing.T) {
	tk := newTestTask(1)
	h := newJoinHandle[int](tk)
	f := h.Future()

	woken := false
	cx := &PollContext{waker: newWaker(func() { woken = true })}

	_, state := f.Poll(cx)
	if state != Pending {
		t.Fatal("Poll() before completion should be Pending")
	}

	tk.complete(5, nil)

	if !woken {
		t.Fatal("completing the task should fire the registered waker")
	}

	v, state := f.Poll(cx)
	if state != Ready {
		t.Fatal("Poll() after completion should be Ready")
	}
	jr := v.(joinResult[int])
	if jr.value != 5 || jr.err != nil {
		t.Fatalf("Poll() result = %+v, want value=5 err=nil", jr)
	}
}
