package asyncrt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// runtimeIDSeq assigns each Runtime a small identity for log correlation,
// mirroring the teacher's per-loop-instance ID used in structured logging.
var runtimeIDSeq atomic.Int64

// Runtime is the top-level scheduler: a fixed pool of Worker goroutines
// sharing a GlobalQueue and InjectionQueue, a registry of live Tasks, an
// optional PreemptTimer, and optional Metrics collection.
type Runtime struct {
	id int64

	workers   []*Worker
	global    *GlobalQueue
	injection *InjectionQueue
	registry  *taskRegistry
	preempt   *PreemptTimer

	opts *runtimeOptions

	taskIDSeq atomic.Uint64

	// ioRegSeq/ioFDOwners back RegisterFD/DeregisterFD: the poll-driven,
	// non-blocking-goroutine counterpart to AsyncRead/AsyncWrite (see
	// io_future.go). Registrations are spread round-robin across worker
	// Pollers; ioFDOwners remembers which one so DeregisterFD needs only fd.
	ioRegSeq   atomic.Uint64
	ioFDOwners sync.Map

	metrics        Metrics
	metricsOn      bool
	tps            *TPSCounter
	scavengeTicker *time.Ticker
	scavengeDone   chan struct{}

	baseCtx    context.Context
	cancelBase context.CancelFunc

	running      atomic.Bool
	shuttingDown atomic.Bool
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// New constructs a Runtime and starts its worker pool. The returned Runtime
// must eventually be shut down via Shutdown to release Poller file
// descriptors and stop background goroutines.
func New(opts ...RuntimeOption) (*Runtime, error) {
	cfg, err := resolveRuntimeOptions(opts)
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	rt := &Runtime{
		id:           runtimeIDSeq.Add(1),
		global:       NewGlobalQueue(),
		injection:    NewInjectionQueue(),
		registry:     newTaskRegistry(),
		opts:         cfg,
		metricsOn:    cfg.metricsEnabled,
		baseCtx:      baseCtx,
		cancelBase:   cancel,
		scavengeDone: make(chan struct{}),
	}
	rt.taskIDSeq.Store(0)
	if rt.metricsOn {
		rt.tps = NewTPSCounter(10*time.Second, 100*time.Millisecond)
	}

	workers := make([]*Worker, cfg.workers)
	for i := range workers {
		w, err := newWorker(i, rt)
		if err != nil {
			for _, started := range workers[:i] {
				if started != nil {
					started.close()
				}
			}
			cancel()
			return nil, &FatalError{Reason: "failed to initialize worker poller", Cause: err}
		}
		workers[i] = w
	}
	rt.workers = workers

	rt.preempt = newPreemptTimer(cfg.preemptQuantum, rt.workers, rt.id, rt.logger)

	rt.running.Store(true)
	for _, w := range rt.workers {
		w.startPollLoop()
		rt.wg.Add(1)
		go func(w *Worker) {
			defer rt.wg.Done()
			w.run()
		}(w)
	}
	rt.preempt.Start()

	rt.scavengeTicker = time.NewTicker(time.Second)
	rt.wg.Add(1)
	go rt.scavengeLoop()

	return rt, nil
}

// logger returns the configured Logger, or nil if logging is disabled.
func (rt *Runtime) logger() Logger { return rt.opts.logger }

// metricsEnabled reports whether Metrics collection is turned on.
func (rt *Runtime) metricsEnabled() bool { return rt.metricsOn }

// Metrics returns the runtime's live Metrics, not a copy: its fields keep
// updating while the runtime runs. They stay at zero values if
// WithMetrics(true) was never set.
func (rt *Runtime) Metrics() *Metrics { return &rt.metrics }

// Spawn schedules fn to run and returns a JoinHandle for its eventual
// result. Spawn is safe to call from any goroutine, including from inside
// another Task's entry function.
func Spawn[T any](rt *Runtime, fn func(ctx context.Context) (T, error)) (JoinHandle[T], error) {
	var zero JoinHandle[T]
	if !rt.running.Load() || rt.shuttingDown.Load() {
		return zero, ErrRuntimeShutdown
	}

	entry := func(ctx context.Context) (any, error) {
		return fn(ctx)
	}

	id := TaskID(rt.taskIDSeq.Add(1))
	t := newTask(id, entry, rt.opts.stackSize)
	rt.registry.Register(t)

	// Every Spawn lands on the injection list rather than a specific
	// worker's LocalQueue: the caller may be a foreign goroutine, another
	// Task's entry function, or a signal handler (spec section 4.1), and
	// the injection list is the one path safe from all three. A worker
	// picks it up on its next shared-queue drain.
	rt.injection.Push(t)
	rt.wakeAll()

	return newJoinHandle[T](t), nil
}

// reinject is used by combinators (e.g. a Waker that resumes a Task which
// had been fully descheduled) to hand a Runnable Task back to the
// scheduler. Tasks parked inside a blocking AsyncRead/AsyncWrite never take
// this path — see Worker.onIOReady.
func (rt *Runtime) reinject(t *Task) {
	rt.injection.Push(t)
	rt.wakeAll()
}

// wakeAll pings every worker's wake source so an idle worker re-checks the
// shared queues promptly instead of waiting out its doorbell timeout.
func (rt *Runtime) wakeAll() {
	for _, w := range rt.workers {
		w.ring()
		_ = w.wake.Notify()
	}
}

// YieldNow relinquishes the calling Task's worker at a cooperative safe
// point: the task drops to Runnable, is reinserted at the tail of its
// LocalQueue, and this call blocks until a later dispatch resumes it (spec
// section 4.4's safe-point exit, and section 6's yield_now contract). If the
// PreemptTimer had flagged this task for running past its quantum, that
// flag is cleared and the yield is logged/counted as a preemption rather
// than a plain voluntary one.
//
// Call it inside long-running CPU-bound loops at a safe point so the
// scheduler's fairness and preemption guarantees can actually take effect;
// a task that never calls it can only be displaced at the next safe point
// it does reach (spec's non-goal: no guarantee stronger than that).
//
// Called from a goroutine that isn't a Task's own entry goroutine (e.g. the
// caller of BlockOn), there is no worker to hand back to, so it just yields
// the OS thread's timeslice via runtime.Gosched().
func YieldNow(ctx context.Context) {
	th := taskHandleFrom(ctx)
	if th == nil {
		goschedYield()
		return
	}
	preempted := th.task.shouldYield()
	th.task.yieldPoint(preempted)
}

// taskContext derives the per-Task context, cancelled when the Runtime
// shuts down (cancelling a single Task through its JoinHandle does not
// cancel this context), carrying the taskHandle
// the io facade and YieldNow need to reach the current worker and Task.
func (rt *Runtime) taskContext(w *Worker, t *Task) context.Context {
	ctx := context.WithValue(rt.baseCtx, taskHandleKey{}, &taskHandle{worker: w, task: t})
	return ctx
}

// BlockOn spawns fn as a Task on the worker pool and blocks the calling
// goroutine in JoinHandle.Await until that Task settles or ctx is done. It
// is the entry point for synchronous code to bridge into the runtime (spec
// section 6: "a host program's main goroutine awaits the root task"). The
// calling goroutine does not itself act as a worker while it waits. Calling
// BlockOn with a Task's own context (e.g. from inside a Task's entry
// function) returns ErrReentrantBlockOn, since that would deadlock the
// calling worker against itself.
func BlockOn[T any](rt *Runtime, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if taskHandleFrom(ctx) != nil {
		return zero, ErrReentrantBlockOn
	}

	handle, err := Spawn(rt, fn)
	if err != nil {
		return zero, err
	}
	return handle.Await(ctx)
}

// Shutdown stops accepting new Spawn calls, cancels every registered Task
// still pending or running, stops the preempt timer and poll loops, and
// waits for all worker goroutines to exit. It is idempotent.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var shutdownErr error
	rt.stopOnce.Do(func() {
		rt.shuttingDown.Store(true)
		rt.cancelBase()
		rt.wakeAll()

		rt.preempt.Stop()

		// scavengeLoop is counted in rt.wg, so it must be told to stop
		// before waiting on rt.wg.
		close(rt.scavengeDone)
		rt.scavengeTicker.Stop()

		done := make(chan struct{})
		go func() {
			rt.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			shutdownErr = ctx.Err()
		}

		rt.drainSharedQueues()
		rt.registry.CancelAll()

		for _, w := range rt.workers {
			w.close()
		}

		rt.running.Store(false)

		if l := rt.logger(); l != nil {
			logShutdown(l, rt.id, 0, shutdownErr != nil)
		}
	})
	return shutdownErr
}

func (rt *Runtime) scavengeLoop() {
	defer rt.wg.Done()
	for {
		select {
		case <-rt.scavengeDone:
			return
		case <-rt.scavengeTicker.C:
			rt.registry.Scavenge(256)
			if rt.metricsEnabled() {
				rt.sampleQueueDepths()
				rt.metrics.TPS = rt.tps.TPS()
			}
		}
	}
}

func (rt *Runtime) sampleQueueDepths() {
	local := 0
	for _, w := range rt.workers {
		local += w.local.Len()
	}
	rt.metrics.Queue.UpdateGlobal(rt.global.Length())
	rt.metrics.Queue.UpdateLocal(local)
}

// drainSharedQueues retires every task still sitting in the GlobalQueue or
// InjectionQueue once every worker's dispatch loop has exited. A worker
// stops pulling from these once it observes shuttingDown, so a task that
// overflowed there (or a fresh Spawn that arrived right as shutdown began)
// would otherwise never be retired by drainOnShutdown, which only walks
// LocalQueues.
func (rt *Runtime) drainSharedQueues() {
	for {
		batch := rt.injection.PopBatch(globalDrainBatch)
		if len(batch) == 0 {
			batch = rt.global.PopBatch(globalDrainBatch)
		}
		if len(batch) == 0 {
			return
		}
		for _, t := range batch {
			rt.cancelOrResume(t, -1)
		}
	}
}

// maxShutdownResumeAttempts bounds how many times cancelOrResume will
// resume an already-started task, waiting for it to observe the
// already-cancelled Runtime context and return on its own, before giving up
// rather than hang shutdown forever on a task that keeps yielding without
// checking ctx.Done().
const maxShutdownResumeAttempts = 64

// cancelOrResume retires a single Task found still pending during shutdown
// drain (in a LocalQueue, the GlobalQueue, or the InjectionQueue). A task
// that never started has no goroutine to worry about, so a plain cancel is
// enough. A task that already yielded at least once has its entry
// goroutine parked on resumeCh — cancelling it directly would leave that
// goroutine blocked forever, since nothing would ever send on resumeCh
// again, so it is resumed instead (repeatedly, if it keeps yielding),
// trusting well-behaved task code to observe the already-cancelled Runtime
// context and return.
func (rt *Runtime) cancelOrResume(t *Task, workerID int) {
	if !t.started.Load() {
		t.cancel()
		return
	}

	for attempt := 0; attempt < maxShutdownResumeAttempts; attempt++ {
		t.resumeCh <- struct{}{}
		step := <-t.stepCh
		if !step.yielded {
			t.complete(step.value, step.err)
			return
		}
	}

	if l := rt.logger(); l != nil {
		logIOStuckTask(l, int64(rt.id), int64(workerID), int64(t.ID()), maxShutdownResumeAttempts)
	}
}
