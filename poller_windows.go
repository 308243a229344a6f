//go:build windows

package asyncrt

import (
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/windows"
)

const maxFDLimit = 100000000

// Poller manages I/O event registration using IOCP.
//
// IOCP reports readiness by completion key, so registration passes fd as
// the key and a Wait lookup resolves it back to the parked Task. This is a
// simplification of true overlapped I/O (which would carry per-operation
// context in the OVERLAPPED structure); it follows the Poller contract of
// spec section 4.5 -- fd in, ready Task out -- without implementing a full
// overlapped-I/O facade.
type Poller struct { // betteralign:ignore
	_       [64]byte
	iocp    windows.Handle
	_       [56]byte
	fds     []fdEntry
	fdMu    sync.RWMutex
	closed  atomic.Bool
	onReady wakeFunc
}

func newPoller(onReady wakeFunc) (*Poller, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &Poller{iocp: iocp, fds: make([]fdEntry, maxFDs), onReady: onReady}, nil
}

// Close closes the IOCP handle.
func (p *Poller) Close() error {
	p.closed.Store(true)
	if p.iocp != 0 {
		return windows.CloseHandle(p.iocp)
	}
	return nil
}

// Register associates fd with the completion port and parks task as its
// waiter.
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

	handle := windows.Handle(fd)
	if _, err := windows.CreateIoCompletionPort(handle, p.iocp, uintptr(fd), 0); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdEntry{}
		p.fdMu.Unlock()
		return err
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

// Deregister removes fd from tracking. Closing the underlying handle
// removes the IOCP association automatically.
func (p *Poller) Deregister(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrNotRegistered
	}
	p.fds[fd] = fdEntry{}
	p.fdMu.Unlock()
	return nil
}

// Modify updates the tracked interest set and waiter for fd.
func (p *Poller) Modify(fd int, interest IOInterest, task *Task) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrNotRegistered
	}
	p.fds[fd] = fdEntry{task: task, interest: interest, active: true}
	p.fdMu.Unlock()
	return nil
}

// Wait blocks for up to timeoutMs milliseconds (negative means forever) and
// dispatches a single readiness notification, if any, to its parked task.
func (p *Poller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, errPollerClosed
	}

	var timeout *uint32
	if timeoutMs >= 0 {
		t := uint32(timeoutMs)
		timeout = &t
	}

	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped

	err := windows.GetQueuedCompletionStatus(p.iocp, &bytes, &key, &overlapped, timeout)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			if errno == windows.WAIT_TIMEOUT {
				return 0, nil
			}
			if errno == windows.ERROR_ABANDONED_WAIT_0 || errno == windows.ERROR_INVALID_HANDLE {
				return 0, errPollerClosed
			}
		}
		return 0, err
	}

	if overlapped == nil {
		// A manual wake-up posted via PostQueuedCompletionStatus, not fd
		// readiness.
		return 0, nil
	}

	fd := int(key)
	p.fdMu.RLock()
	var entry fdEntry
	if fd >= 0 && fd < len(p.fds) {
		entry = p.fds[fd]
	}
	p.fdMu.RUnlock()

	if entry.active && entry.task != nil {
		p.onReady(entry.task, entry.interest)
		return 1, nil
	}
	return 0, nil
}

// Wakeup interrupts a blocked Wait call from another goroutine.
func (p *Poller) Wakeup() error {
	if p.closed.Load() {
		return errPollerClosed
	}
	return windows.PostQueuedCompletionStatus(p.iocp, 0, 0, nil)
}
