package asyncrt

import (
	"context"
	goruntime "runtime"
)

// taskHandleKey is the context key under which Runtime.taskContext stores a
// *taskHandle, giving the io facade and YieldNow a way to reach the
// current Task and the Worker it is running on without threading extra
// parameters through every Entry signature.
type taskHandleKey struct{}

// taskHandle bundles a Task with the Worker currently running it.
type taskHandle struct {
	worker *Worker
	task   *Task
}

// taskHandleFrom extracts the taskHandle stored by Runtime.taskContext, or
// nil if ctx was not derived from a Task's own context (e.g. it is a plain
// caller-supplied context.Background()).
func taskHandleFrom(ctx context.Context) *taskHandle {
	th, _ := ctx.Value(taskHandleKey{}).(*taskHandle)
	return th
}

// goschedYield yields the calling goroutine's timeslice.
func goschedYield() { goruntime.Gosched() }
