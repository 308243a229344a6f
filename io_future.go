package asyncrt

import "sync"

// IOFuture is the poll-driven counterpart to AsyncRead/AsyncWrite/
// AsyncConnect: those block the calling goroutine until fd is ready, which
// is the right default for most callers, but a caller composing several
// pending operations (e.g. a select-style fan-in over many fds) wants a
// Future it can Poll alongside others instead of dedicating a goroutine to
// each one. RegisterFD/DeregisterFD expose that lower-level path.
type IOFuture struct {
	worker   *Worker
	fd       int
	interest IOInterest
	carrier  *Task

	mu    sync.Mutex
	ready bool
}

// RegisterFD registers fd for interest against one of the Runtime's worker
// Pollers, chosen round-robin, and returns an IOFuture a caller can Poll
// directly. fd is switched to non-blocking mode as part of registration.
// Returns *PollerError wrapping ErrAlreadyRegistered if fd is already
// registered with the chosen worker's Poller.
func (rt *Runtime) RegisterFD(fd int, interest IOInterest) (*IOFuture, error) {
	if err := setNonblocking(fd); err != nil {
		return nil, &PollerError{Fd: fd, Op: "register", Cause: err}
	}

	idx := int(rt.ioRegSeq.Add(1)-1) % len(rt.workers)
	w := rt.workers[idx]

	// carrier is never scheduled; it exists only as the Poller's readiness
	// handle, the same role Task.ioWait plays for a blocking AsyncRead/
	// AsyncWrite call (see io_facade.go). It is deliberately not registered
	// with the Runtime's taskRegistry, since it never produces a JoinHandle
	// result for Scavenge to collect.
	carrier := newTask(TaskID(rt.taskIDSeq.Add(1)), nil, rt.opts.stackSize)

	if err := w.poller.Register(fd, interest, carrier); err != nil {
		return nil, &PollerError{Fd: fd, Op: "register", Cause: err}
	}
	rt.ioFDOwners.Store(fd, w)

	return &IOFuture{worker: w, fd: fd, interest: interest, carrier: carrier}, nil
}

// DeregisterFD removes fd's readiness registration from whichever worker
// Poller RegisterFD placed it on. Returns ErrNotRegistered if fd was never
// registered (or was already deregistered).
func (rt *Runtime) DeregisterFD(fd int) error {
	v, ok := rt.ioFDOwners.LoadAndDelete(fd)
	if !ok {
		return ErrNotRegistered
	}
	return v.(*Worker).poller.Deregister(fd)
}

// Poll implements Future: it resolves Ready(nil) the first time fd becomes
// ready for the registered interest, or registers cx.Waker() to fire on the
// next readiness event and returns Pending. Once Ready, subsequent Poll
// calls keep returning Ready(nil) without re-registering.
func (f *IOFuture) Poll(cx *PollContext) (any, PollState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ready {
		return nil, Ready
	}

	waker := cx.Waker()
	f.carrier.ioWait.Store(&ioWaitDescriptor{
		fd:       f.fd,
		interest: f.interest,
		waker: newWaker(func() {
			f.mu.Lock()
			f.ready = true
			f.mu.Unlock()
			waker.Wake()
		}),
	})
	return nil, Pending
}
