// Package asyncrt provides an asynchronous task runtime: a multi-producer,
// work-stealing scheduler with per-worker lock-free run queues, a shared
// overflow queue, signal-assisted preemption of long-running tasks, and an
// I/O readiness layer that parks and wakes tasks on file-descriptor events.
//
// # Architecture
//
// A [Runtime] owns a fixed pool of Worker goroutines, each with its own
// [LocalQueue] (a bounded lock-free deque), plus a shared [GlobalQueue] for
// overflow and fairness. [Task] is the unit of scheduled work: an entry
// function, a lifecycle [TaskState], an optional I/O wait registered with
// the [Poller], and a preemption flag a background PreemptTimer may set.
// Higher-level async operations are expressed through the [Future] and
// [Waker] primitives in terms of poll/Pending/Ready.
//
// # Scheduling
//
// [Spawn] lands a new task on the shared injection list, since the caller
// may be a foreign goroutine, another task's entry function, or a signal
// handler. Each worker runs fetch-then-execute on its own dedicated
// goroutine: pop local, periodically drain a batch from the injection list
// and GlobalQueue for fairness, steal from a random peer when starved, and
// otherwise idle until its doorbell rings. A second goroutine per worker
// runs the Poller's wait loop continuously, so a task parked on I/O inside
// the first goroutine is still woken promptly.
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - Linux: epoll
//   - macOS: kqueue
//   - Windows: IOCP (I/O Completion Ports)
//
// Preemption uses a cooperative flag checked at safe points, reinforced on
// Linux by an asynchronous SIGURG raised against the worker's OS thread to
// interrupt a blocking syscall — the same mechanism the Go runtime itself
// uses for async preemption. Other platforms rely on the cooperative flag
// alone.
//
// # Thread Safety
//
// [Spawn] and a [Waker]'s Wake method are safe to call from any
// goroutine; Wake runs the Waker's callback at most once. A
// [LocalQueue]'s push/pop is exclusive to its owning worker; steal is safe
// from any goroutine via atomic CAS on the head counter.
//
// # Usage
//
//	rt, err := asyncrt.New(asyncrt.WithWorkers(4))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Shutdown(context.Background())
//
//	handle, err := asyncrt.Spawn(rt, func(ctx context.Context) (int, error) {
//		return 42, nil
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	v, err := handle.Await(context.Background())
package asyncrt
