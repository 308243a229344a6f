//go:build darwin

package asyncrt

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// maxFDLimit bounds the dynamic growth of the Darwin poller's fd table.
const maxFDLimit = 100000000

// Poller manages I/O event registration using kqueue.
type Poller struct { // betteralign:ignore
	_        [64]byte
	kq       int32
	_        [60]byte
	eventBuf [256]unix.Kevent_t
	fds      []fdEntry
	fdMu     sync.RWMutex
	closed   atomic.Bool
	onReady  wakeFunc
}

// newPoller creates and initializes a kqueue instance.
func newPoller(onReady wakeFunc) (*Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &Poller{kq: int32(kq), fds: make([]fdEntry, maxFDs), onReady: onReady}, nil
}

// Close closes the kqueue instance.
func (p *Poller) Close() error {
	p.closed.Store(true)
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

// Register adds fd to the poller with the given interest set, parking task
// as its waiter.
func (p *Poller) Register(fd int, interest IOInterest, task *Task) error {
	if p.closed.Load() {
		return errPollerClosed
	}
	if fd < 0 || fd >= maxFDLimit {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	p.growLocked(fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrAlreadyRegistered
	}
	p.fds[fd] = fdEntry{task: task, interest: interest, active: true}
	p.fdMu.Unlock()

	kevents := interestToKevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(int(p.kq), kevents, nil, nil); err != nil {
			p.fdMu.Lock()
			p.fds[fd] = fdEntry{}
			p.fdMu.Unlock()
			return err
		}
	}
	return nil
}

func (p *Poller) growLocked(fd int) {
	if fd < len(p.fds) {
		return
	}
	newSize := fd*2 + 1
	if newSize > maxFDLimit {
		newSize = maxFDLimit + 1
	}
	newFds := make([]fdEntry, newSize)
	copy(newFds, p.fds)
	p.fds = newFds
}

// Deregister removes fd from the poller.
func (p *Poller) Deregister(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrNotRegistered
	}
	interest := p.fds[fd].interest
	p.fds[fd] = fdEntry{}
	p.fdMu.Unlock()

	kevents := interestToKevents(fd, interest, unix.EV_DELETE)
	if len(kevents) > 0 {
		_, _ = unix.Kevent(int(p.kq), kevents, nil, nil)
	}
	return nil
}

// Modify updates the interest set for an already-registered fd.
func (p *Poller) Modify(fd int, interest IOInterest, task *Task) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrNotRegistered
	}
	old := p.fds[fd].interest
	p.fds[fd] = fdEntry{task: task, interest: interest, active: true}
	p.fdMu.Unlock()

	if old&^interest != 0 {
		del := interestToKevents(fd, old&^interest, unix.EV_DELETE)
		if len(del) > 0 {
			_, _ = unix.Kevent(int(p.kq), del, nil, nil)
		}
	}
	if interest&^old != 0 {
		add := interestToKevents(fd, interest&^old, unix.EV_ADD|unix.EV_ENABLE)
		if len(add) > 0 {
			if _, err := unix.Kevent(int(p.kq), add, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Wait blocks for up to timeoutMs milliseconds (negative means forever) and
// dispatches readiness to parked tasks.
func (p *Poller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, errPollerClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMs / 1000), Nsec: int64((timeoutMs % 1000) * 1000000)}
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	p.dispatch(n)
	return n, nil
}

func (p *Poller) dispatch(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}
		p.fdMu.RLock()
		var entry fdEntry
		if fd < len(p.fds) {
			entry = p.fds[fd]
		}
		p.fdMu.RUnlock()

		if entry.active && entry.task != nil {
			p.onReady(entry.task, keventToInterest(&p.eventBuf[i]))
		}
	}
}

func interestToKevents(fd int, interest IOInterest, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if interest&InterestRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&InterestWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToInterest(kev *unix.Kevent_t) IOInterest {
	var interest IOInterest
	switch kev.Filter {
	case unix.EVFILT_READ:
		interest |= InterestRead
	case unix.EVFILT_WRITE:
		interest |= InterestWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		interest |= InterestError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		interest |= InterestHangup
	}
	return interest
}
