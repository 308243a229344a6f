//go:build linux

package asyncrt

import "golang.org/x/sys/unix"

// currentThreadID returns the OS thread ID of the calling goroutine. Only
// meaningful after runtime.LockOSThread, which Worker.run calls before
// storing the result — otherwise the goroutine could be rescheduled onto a
// different thread before PreemptTimer reads it.
func currentThreadID() int32 {
	return int32(unix.Gettid())
}

// signalThread sends SIGURG to tid, the same signal Go's own runtime uses
// for asynchronous goroutine preemption (see runtime.sigPreempt). tid is a
// worker's dispatch thread, locked by Worker.run; a Task's entry function
// runs on its own goroutine, which is not bound to that thread, so the
// signal does not reach the entry function itself.
func signalThread(tid int32) error {
	return unix.Tgkill(unix.Getpid(), int(tid), unix.SIGURG)
}
