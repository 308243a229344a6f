//go:build darwin

package asyncrt

import "syscall"

// wakeSource interrupts a worker parked in Poller.Wait. Darwin has no
// eventfd, so it falls back to the classic self-pipe trick: a write to the
// pipe's write end makes the read end ready, which the poller is watching.
type wakeSource struct {
	readFd  int
	writeFd int
}

func newWakeSource() (*wakeSource, error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return nil, err
	}
	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		_ = syscall.Close(fds[0])
		_ = syscall.Close(fds[1])
		return nil, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		_ = syscall.Close(fds[0])
		_ = syscall.Close(fds[1])
		return nil, err
	}
	return &wakeSource{readFd: fds[0], writeFd: fds[1]}, nil
}

// newWorkerWakeSource builds the platform wake source for a worker's
// poller. On Darwin the Poller argument is unused: the source is a plain
// self-pipe the caller registers with Poller.Register itself.
func newWorkerWakeSource(_ *Poller) (*wakeSource, error) {
	return newWakeSource()
}

// FD returns the descriptor to register with the Poller for InterestRead.
func (w *wakeSource) FD() int { return w.readFd }

// Notify wakes any worker blocked on this source.
func (w *wakeSource) Notify() error {
	_, err := syscall.Write(w.writeFd, []byte{1})
	if err != nil && err != syscall.EAGAIN {
		return err
	}
	return nil
}

// Drain consumes pending notifications after a wake-up.
func (w *wakeSource) Drain() {
	var buf [64]byte
	for {
		if _, err := syscall.Read(w.readFd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases both ends of the pipe.
func (w *wakeSource) Close() error {
	_ = syscall.Close(w.writeFd)
	return syscall.Close(w.readFd)
}

// registerWithPoller registers the wake source's read end with the poller,
// unassociated with any Task, so Wait() simply returns as soon as Notify()
// is called from another goroutine; the worker then drains and re-checks
// its queues.
func (w *wakeSource) registerWithPoller(p *Poller) error {
	return p.Register(w.readFd, InterestRead, nil)
}
