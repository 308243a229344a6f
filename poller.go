// Package asyncrt: I/O readiness polling.
//
// The Poller multiplexes file descriptor readiness over a single
// platform-native mechanism (epoll on Linux, kqueue on Darwin, IOCP on
// Windows) and resumes parked Tasks rather than invoking callbacks
// directly: each registration carries the Task waiting on that fd, and a
// readiness event fires the Waker the blocking AsyncRead/AsyncWrite call is
// parked behind, waking that same goroutine rather than rescheduling a new
// one (spec section 4.5/4.7: "the Poller is just another source of
// wake-ups").
//
// See poller_linux.go, poller_darwin.go, and poller_windows.go for
// platform-specific implementations.
package asyncrt

import "errors"

// IOInterest is the set of readiness conditions a registration is
// interested in.
type IOInterest uint32

const (
	// InterestRead indicates the file descriptor is ready for reading.
	InterestRead IOInterest = 1 << iota
	// InterestWrite indicates the file descriptor is ready for writing.
	InterestWrite
	// InterestError indicates an error condition on the file descriptor.
	InterestError
	// InterestHangup indicates the peer closed its end of the connection.
	InterestHangup
)

// Maximum file descriptor supported with direct indexing on platforms that
// use a fixed-size table (Linux); Darwin grows a slice on demand instead.
const maxFDs = 65536

// fdEntry stores per-fd registration state: the interest set and the Task
// parked on it. Exactly one Task may be registered per fd at a time,
// matching spec section 4.5's single-owner rule.
type fdEntry struct {
	task     *Task
	interest IOInterest
	active   bool
}

// Standard poller errors, also reachable as PollerError.Cause.
var (
	ErrFDOutOfRange = errors.New("asyncrt: fd out of range")
	errPollerClosed = errors.New("asyncrt: poller closed")
)

// wakeFunc is invoked by the platform poller when a registered fd becomes
// ready. The worker's implementation (Worker.onIOReady) clears the Task's
// ioWait descriptor and fires its Waker; the woken goroutine itself moves
// the Task from Waiting back to Running, without any queue involved.
type wakeFunc func(t *Task, ev IOInterest)
