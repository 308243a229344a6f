package asyncrt

import "context"

// JoinHandle is the caller-facing handle returned by Spawn: a typed view
// onto a Task's eventual result. Exactly one JoinHandle exists per spawned
// Task (spec section 5); dropping it without ever observing the result is
// legal and simply means the result value is discarded once the task
// completes.
type JoinHandle[T any] struct {
	task *Task
}

// newJoinHandle wraps t for callers expecting a T-typed result.
func newJoinHandle[T any](t *Task) JoinHandle[T] {
	return JoinHandle[T]{task: t}
}

// ID returns the underlying Task's identity.
func (h JoinHandle[T]) ID() TaskID { return h.task.ID() }

// State returns the underlying Task's current lifecycle state.
func (h JoinHandle[T]) State() TaskState { return h.task.State() }

// Cancel requests cancellation of the underlying task. It is a no-op if the
// task has already reached a terminal state.
func (h JoinHandle[T]) Cancel() { h.task.cancel() }

// Await blocks the calling goroutine until the task completes, or ctx is
// done, whichever comes first. A zero value of T is returned alongside
// ctx.Err() if the context expires first; the task itself keeps running.
func (h JoinHandle[T]) Await(ctx context.Context) (T, error) {
	var zero T

	if res := h.task.result.Load(); res != nil {
		return resultAs[T](res)
	}

	done := h.task.waiters.channel()
	select {
	case <-done:
		res := h.task.result.Load()
		return resultAs[T](res)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Future returns a poll-driven Future over this handle's result, for a task
// that wants to await another task's completion without blocking a whole
// goroutine on a channel receive.
func (h JoinHandle[T]) Future() Future {
	return &joinFuture[T]{task: h.task}
}

// resultAs extracts a taskResult into the (value, error) pair a generic
// caller expects, type-asserting the stored value to T. A Cancelled task
// with no recorded value yields the zero T alongside its error.
func resultAs[T any](res *taskResult) (T, error) {
	var zero T
	if res == nil {
		return zero, ErrNotCompleted
	}
	if res.value == nil {
		return zero, res.err
	}
	if v, ok := res.value.(T); ok {
		return v, res.err
	}
	return zero, res.err
}

// joinFuture adapts a Task's completion into the Future interface.
type joinFuture[T any] struct {
	task *Task
}

func (f *joinFuture[T]) Poll(cx *PollContext) (any, PollState) {
	if res := f.task.result.Load(); res != nil {
		v, err := resultAs[T](res)
		return joinResult[T]{value: v, err: err}, Ready
	}
	f.task.waiters.addWaker(cx.Waker())
	// Re-check after registering: the task may have completed between the
	// load above and addWaker taking effect, and notifyAll's done flag
	// guards against a lost wakeup (addWaker fires immediately in that case).
	if res := f.task.result.Load(); res != nil {
		v, err := resultAs[T](res)
		return joinResult[T]{value: v, err: err}, Ready
	}
	return nil, Pending
}

// joinResult is the value produced by joinFuture.Poll on Ready.
type joinResult[T any] struct {
	value T
	err   error
}
