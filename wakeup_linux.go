//go:build linux

package asyncrt

import "golang.org/x/sys/unix"

// wakeSource interrupts a worker parked in Poller.Wait when new work
// arrives on the GlobalQueue or injection list (spec section 4.2: "a
// blocked worker must be woken without busy-polling"). Linux uses a single
// eventfd registered with the poller for read-readiness.
type wakeSource struct {
	fd int
}

func newWakeSource() (*wakeSource, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &wakeSource{fd: fd}, nil
}

// newWorkerWakeSource builds the platform wake source for a worker's
// poller. On Linux the Poller argument is unused: the source is a plain
// eventfd the caller registers with Poller.Register itself.
func newWorkerWakeSource(_ *Poller) (*wakeSource, error) {
	return newWakeSource()
}

// FD returns the descriptor to register with the Poller for InterestRead.
func (w *wakeSource) FD() int { return w.fd }

// Notify wakes any worker blocked on this source.
func (w *wakeSource) Notify() error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Drain consumes pending notifications after a wake-up.
func (w *wakeSource) Drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.fd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the underlying eventfd.
func (w *wakeSource) Close() error {
	return unix.Close(w.fd)
}

// registerWithPoller registers the wake source's read end with the poller,
// unassociated with any Task, so Wait() simply returns as soon as Notify()
// is called from another goroutine; the worker then drains and re-checks
// its queues.
func (w *wakeSource) registerWithPoller(p *Poller) error {
	return p.Register(w.fd, InterestRead, nil)
}
