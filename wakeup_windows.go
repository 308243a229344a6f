//go:build windows

package asyncrt

// wakeSource interrupts a worker parked in Poller.Wait. Windows IOCP needs
// no fd: Poller.Wakeup posts a NULL completion packet directly, which is
// the standard wake-up pattern for IOCP. wakeSource exists only so worker.go
// has a uniform type across platforms; it delegates to the Poller.
type wakeSource struct {
	poller *Poller
}

// newWorkerWakeSource builds the platform wake source for a worker's
// poller. On Windows it delegates directly to Poller.Wakeup, needing no fd.
func newWorkerWakeSource(p *Poller) (*wakeSource, error) {
	return &wakeSource{poller: p}, nil
}

// Notify wakes any worker blocked on this source.
func (w *wakeSource) Notify() error {
	return w.poller.Wakeup()
}

// Drain is a no-op on Windows; PostQueuedCompletionStatus does not leave
// residual state to consume.
func (w *wakeSource) Drain() {}

// Close is a no-op; the underlying Poller owns the IOCP handle's lifetime.
func (w *wakeSource) Close() error { return nil }

// registerWithPoller is a no-op on Windows: Notify already reaches the
// poller directly via PostQueuedCompletionStatus.
func (w *wakeSource) registerWithPoller(_ *Poller) error { return nil }
