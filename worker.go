package asyncrt

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// globalDrainBatch bounds how many tasks a worker pulls from the GlobalQueue
// or injection list in one go, amortizing the shared mutex/CAS cost over
// several tasks instead of paying it per task (spec section 4.2).
const globalDrainBatch = 32

// globalCheckInterval is how many local dispatches a worker performs before
// checking the GlobalQueue again, per spec section 4.3's fairness
// requirement: a worker must not starve global/injected work indefinitely
// just because its local deque stays non-empty.
const globalCheckInterval = 61

// idleDoorbellTimeout bounds how long a worker's dispatch loop waits on its
// doorbell before re-checking queues anyway — covers steal opportunities
// that arise on a peer's local deque, which never rings this worker's
// doorbell directly.
const idleDoorbellTimeout = 2 * time.Millisecond

// pollWaitMs is how long the poll loop blocks in Poller.Wait between
// iterations; it wakes early on real fd readiness or a Notify() call.
const pollWaitMs = 1000

// Worker is the per-OS-thread execution unit: it owns one LockFreeDeque, a
// Poller, and a wakeSource, and runs two goroutines for the Runtime's
// lifetime:
//
//   - the dispatch loop (run), which fetches and executes Tasks, the same
//     run-to-completion-or-park model the teacher's single event loop used,
//     generalized across N cooperating workers with cross-worker stealing;
//   - the poll loop (pollLoop), which blocks in Poller.Wait so fd readiness
//     can resume a Task parked inside AsyncRead/AsyncWrite even while the
//     dispatch loop itself is busy running a different task.
//
// Each task's entry function runs on its own goroutine while the dispatch
// loop waits for it to yield or finish, so a worker still runs one task at
// a time (matching the teacher's model); splitting out the poll loop keeps
// a task blocked on I/O from starving the mechanism that would wake it.
type Worker struct { // betteralign:ignore
	id         int
	rt         *Runtime
	local      *LockFreeDeque
	poller     *Poller
	wake       *wakeSource
	current    atomic.Pointer[Task]
	tid        atomic.Int32
	dispatched uint64
	rng        *rand.Rand

	doorbell chan struct{}
	pollDone chan struct{}
	pollWG   sync.WaitGroup
}

func newWorker(id int, rt *Runtime) (*Worker, error) {
	w := &Worker{
		id:    id,
		rt:    rt,
		local: NewLockFreeDeque(),
		// #nosec G404 -- steal-target selection has no security relevance.
		rng:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		doorbell: make(chan struct{}, 1),
		pollDone: make(chan struct{}),
	}
	w.tid.Store(-1)

	p, err := newPoller(w.onIOReady)
	if err != nil {
		return nil, err
	}
	w.poller = p

	wk, err := newWorkerWakeSource(p)
	if err != nil {
		p.Close()
		return nil, err
	}
	w.wake = wk
	if err := wk.registerWithPoller(p); err != nil {
		p.Close()
		return nil, err
	}

	return w, nil
}

// ring pings the doorbell without blocking; a full buffer means a wake is
// already pending, so the send is simply dropped.
func (w *Worker) ring() {
	select {
	case w.doorbell <- struct{}{}:
	default:
	}
}

// onIOReady is the Poller's wakeFunc. A direct AsyncRead/AsyncWrite call
// blocks its own calling goroutine on a Waker-backed channel (see
// io_facade.go); readiness here just fires that Waker, resuming the same
// goroutine the task has been running on all along — there's no queue to
// reinject onto.
func (w *Worker) onIOReady(t *Task, _ IOInterest) {
	if t == nil {
		return
	}
	desc := t.ioWait.Load()
	if desc == nil {
		return
	}
	t.ioWait.Store(nil)
	if desc.waker != nil {
		desc.waker.Wake()
	}
}

// startPollLoop launches the dedicated Poller.Wait goroutine.
func (w *Worker) startPollLoop() {
	w.pollWG.Add(1)
	go w.pollLoop()
}

func (w *Worker) pollLoop() {
	defer w.pollWG.Done()
	for {
		select {
		case <-w.pollDone:
			return
		default:
		}

		_, err := w.poller.Wait(pollWaitMs)
		if err != nil {
			if l := w.rt.logger(); l != nil {
				logPollError(l, int64(w.rt.id), int64(w.id), err, false)
			}
		}
		w.wake.Drain()
		w.ring()
	}
}

// run is the dispatch loop's entry point.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.tid.Store(currentThreadID())

	for {
		if w.rt.shuttingDown.Load() && w.drainOnShutdown() {
			return
		}

		t, ok := w.next()
		if !ok {
			w.idle()
			continue
		}

		w.dispatch(t)
	}
}

// next finds the next runnable Task: on every globalCheckInterval-th call
// it tries the shared queues first; then it tries the local deque, then
// the shared queues, then stealing from a random peer.
func (w *Worker) next() (*Task, bool) {
	w.dispatched++
	if w.dispatched%globalCheckInterval == 0 {
		if t, ok := w.popShared(); ok {
			return t, true
		}
	}

	if t, ok := w.local.PopBottom(); ok {
		return t, true
	}

	if t, ok := w.popShared(); ok {
		return t, true
	}

	return w.steal()
}

// popShared drains a batch from the injection list and the GlobalQueue,
// keeps one task for immediate dispatch, and pushes the rest onto the
// local deque (spilling overflow back to the GlobalQueue if the local
// deque is already near capacity).
func (w *Worker) popShared() (*Task, bool) {
	batch := w.rt.injection.PopBatch(globalDrainBatch)
	if len(batch) == 0 {
		batch = w.rt.global.PopBatch(globalDrainBatch)
	}
	if len(batch) == 0 {
		return nil, false
	}

	head := batch[0]
	for _, t := range batch[1:] {
		if !w.local.PushBottom(t) {
			w.rt.global.Push(t)
		}
	}
	return head, true
}

// steal takes a batch from a random peer worker's local deque, keeping one
// task for immediate dispatch and pushing the rest locally.
func (w *Worker) steal() (*Task, bool) {
	peers := w.rt.workers
	n := len(peers)
	if n <= 1 {
		return nil, false
	}

	start := w.rng.Intn(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		peer := peers[idx]
		if peer == w {
			continue
		}
		batch := peer.local.StealBatch(max(1, peer.local.Len()/2))
		if len(batch) == 0 {
			continue
		}
		if w.rt.metricsEnabled() {
			w.rt.metrics.Queue.UpdateSteals(len(batch))
		}
		for _, t := range batch[1:] {
			if !w.local.PushBottom(t) {
				w.rt.global.Push(t)
			}
		}
		w.maybeLogSteal(peer, batch[0])
		return batch[0], true
	}
	return nil, false
}

func (w *Worker) maybeLogSteal(peer *Worker, t *Task) {
	l := w.rt.logger()
	if l == nil {
		return
	}
	logTaskStolen(l, int64(w.rt.id), int64(peer.id), int64(w.id), int64(t.ID()))
}

// idle waits on the doorbell (rung by this worker's poll loop whenever
// Poller.Wait returns, and by Runtime whenever it pushes shared work) for
// up to idleDoorbellTimeout before looping back to re-check queues anyway.
func (w *Worker) idle() {
	select {
	case <-w.doorbell:
	case <-time.After(idleDoorbellTimeout):
	}
}

// drainOnShutdown retires any remaining local work once the Runtime has
// begun shutting down; returns true once this worker's local deque is
// empty and it is safe to exit run().
func (w *Worker) drainOnShutdown() bool {
	for {
		t, ok := w.local.PopBottom()
		if !ok {
			return true
		}
		w.rt.cancelOrResume(t, w.id)
	}
}

// dispatch runs a single Task on this worker, either starting its entry
// function on a fresh goroutine (first dispatch) or resuming one already
// parked at a YieldNow safe point (every dispatch after). Either way this
// call blocks until the task yields again or completes — the worker stays
// single-threaded cooperative inside a task, exactly as if it still ran
// inline, but a task that calls YieldNow now genuinely hands the worker
// back instead of only doing so once its function returns.
func (w *Worker) dispatch(t *Task) {
	resuming := t.started.Load()

	if resuming {
		// A yielded task was left Runnable by yieldToRunnable.
		if !t.markRunning() {
			return
		}
	} else {
		if !t.markRunning() {
			// Lost a race (e.g. concurrently cancelled between dequeue and
			// here); the cancel path already settled it.
			return
		}
		t.started.Store(true)
	}

	w.current.Store(t)
	if l := w.rt.logger(); l != nil {
		logTaskSpawned(l, int64(w.rt.id), int64(w.id), int64(t.ID()))
	}

	if !resuming && w.rt.metricsEnabled() {
		w.rt.metrics.Wait.Record(time.Since(t.createdAt))
	}

	start := time.Now()
	if resuming {
		t.resumeCh <- struct{}{}
	} else {
		w.startEntryGoroutine(t)
	}

	step := <-t.stepCh

	ran := time.Since(start)
	if w.rt.metricsEnabled() {
		w.rt.metrics.Run.Record(ran)
	}
	w.current.Store(nil)

	if step.yielded {
		if step.preempted {
			if l := w.rt.logger(); l != nil {
				logTaskPreempted(l, int64(w.rt.id), int64(w.id), int64(t.ID()), ran)
			}
			if w.rt.metricsEnabled() {
				w.rt.metrics.Queue.UpdatePreempts(1)
			}
		}
		t.yieldToRunnable()
		if !w.local.PushBottom(t) {
			w.rt.global.Push(t)
		}
		return
	}

	t.complete(step.value, step.err)
	if w.rt.metricsEnabled() {
		w.rt.tps.Increment()
	}
}

// startEntryGoroutine launches t.fn on its own goroutine, the first time t
// is dispatched. The goroutine reports back over t.stepCh once per
// dispatch: a yield step (via Task.yieldPoint, called from inside YieldNow)
// each time t.fn yields, and exactly one final completion step when t.fn
// returns.
func (w *Worker) startEntryGoroutine(t *Task) {
	ctx := w.rt.taskContext(w, t)
	go func() {
		value, err := w.runEntry(t, ctx)
		t.stepCh <- taskStep{value: value, err: err}
	}()
}

// runEntry invokes t.fn, recovering a panic into a PanicError so a
// misbehaving Task cannot take down the worker goroutine (spec section 3:
// "a panicking task's failure is delivered to its JoinHandle").
func (w *Worker) runEntry(t *Task, ctx context.Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if l := w.rt.logger(); l != nil {
				logTaskPanicked(l, int64(w.rt.id), int64(w.id), int64(t.ID()), r)
			}
			err = PanicError{Value: r}
		}
	}()
	return t.fn(ctx)
}

// close stops the poll loop and releases the worker's poller and wake
// source.
func (w *Worker) close() {
	close(w.pollDone)
	_ = w.wake.Notify() // unblock a poll loop parked in Wait
	w.pollWG.Wait()
	w.wake.Close()
	w.poller.Close()
}
