package asyncrt

import "context"

// AsyncRead reads from fd into buf, parking the calling Task behind the
// Poller if the syscall would block, and retrying once readiness fires.
// fd must already be in non-blocking mode (see setNonblocking); the facade
// registers/deregisters it with the calling worker's Poller for the
// duration of the call only, so a single fd can be freely reused across
// many AsyncRead/AsyncWrite calls from the same task.
func AsyncRead(ctx context.Context, fd int, buf []byte) (int, error) {
	return asyncIO(ctx, fd, InterestRead, func() (int, error) {
		return readFD(fd, buf)
	})
}

// AsyncWrite writes buf to fd, parking the calling Task behind the Poller
// if the syscall would block.
func AsyncWrite(ctx context.Context, fd int, buf []byte) (int, error) {
	return asyncIO(ctx, fd, InterestWrite, func() (int, error) {
		return writeFD(fd, buf)
	})
}

// AsyncConnect waits for fd (a non-blocking socket with a connect already
// in flight) to become writable, the standard readiness signal for
// connection establishment, then returns. The caller is responsible for
// checking SO_ERROR afterward to distinguish success from a failed
// connection attempt.
func AsyncConnect(ctx context.Context, fd int) error {
	th := taskHandleFrom(ctx)
	if th == nil {
		return nil
	}
	return th.waitReady(ctx, fd, InterestWrite)
}

// asyncIO runs op, and if it fails with EWOULDBLOCK/EAGAIN, registers fd
// with the calling task's worker Poller and blocks the calling goroutine
// until readiness (or ctx cancellation) wakes it, then retries op. This
// loop continues until op succeeds, fails with a real error, or ctx is
// done.
func asyncIO(ctx context.Context, fd int, interest IOInterest, op func() (int, error)) (int, error) {
	th := taskHandleFrom(ctx)
	if th == nil {
		// Not running on a worker goroutine (e.g. called directly from a
		// test or from BlockOn's caller goroutine): fall back to a single
		// synchronous attempt, since there is no Poller to register with.
		return op()
	}

	for {
		n, err := op()
		if err == nil || !isWouldBlock(err) {
			return n, err
		}

		if err := th.waitReady(ctx, fd, interest); err != nil {
			return 0, err
		}
	}
}

// waitReady registers fd with the task's worker Poller and blocks until the
// Poller reports readiness, ctx is done, or registration itself fails.
func (th *taskHandle) waitReady(ctx context.Context, fd int, interest IOInterest) error {
	if err := setNonblocking(fd); err != nil {
		return &PollerError{Fd: fd, Op: "register", Cause: err}
	}

	ch := make(chan struct{})
	waker := newWaker(func() { close(ch) })

	th.task.state.TryTransition(StateRunning, StateWaiting)
	th.task.ioWait.Store(&ioWaitDescriptor{fd: fd, interest: interest, waker: waker})

	if err := th.worker.poller.Register(fd, interest, th.task); err != nil {
		th.task.ioWait.Store(nil)
		th.task.resumeRunning()
		return &PollerError{Fd: fd, Op: "register", Cause: err}
	}

	select {
	case <-ch:
		th.worker.poller.Deregister(fd)
		th.task.resumeRunning()
		return nil
	case <-ctx.Done():
		th.worker.poller.Deregister(fd)
		th.task.ioWait.Store(nil)
		th.task.resumeRunning()
		return ctx.Err()
	}
}
