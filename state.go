package asyncrt

import (
	"sync/atomic"
)

// TaskState represents the current lifecycle state of a Task.
//
// State Machine:
//
//	Runnable  -> Running              [worker dequeues and begins execution]
//	Running   -> Runnable             [task yields or is preempted at a safe point]
//	Running   -> Waiting              [task parks on fd readiness in AsyncRead/AsyncWrite/AsyncConnect]
//	Running   -> Completed            [task's function returns normally]
//	Running   -> Cancelled            [task observes cancellation at a safe point]
//	Waiting   -> Running              [readiness fires or the wait is abandoned; the task resumes on its own goroutine]
//	Waiting   -> Cancelled            [cancelled while parked]
//	Runnable  -> Cancelled            [cancelled before it ever ran]
//
// A Waiting task never goes back to Runnable or through a run queue: it
// resumes in place. Transitions are enforced with compare-and-swap; there is no path back out
// of Completed or Cancelled. This mirrors the g.atomicstatus state machine
// in the Go runtime itself (_Grunnable/_Grunning/_Gwaiting/_Gdead), which is
// also a lock-free CAS machine guarding a single goroutine's execution slot.
type TaskState uint32

const (
	// StateRunnable indicates the task is queued and eligible to run.
	StateRunnable TaskState = iota
	// StateRunning indicates the task is currently executing on a worker.
	StateRunning
	// StateWaiting indicates the task is parked on a Future (I/O wait or Waker).
	StateWaiting
	// StateCompleted indicates the task's function returned normally.
	StateCompleted
	// StateCancelled indicates the task was cancelled before or during execution.
	StateCancelled
)

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case StateRunnable:
		return "Runnable"
	case StateRunning:
		return "Running"
	case StateWaiting:
		return "Waiting"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// taskStateMachine is a lock-free CAS state machine, cache-line padded so a
// worker writing its current task's state doesn't false-share the line with
// the PreemptTimer goroutine reading it every quantum.
type taskStateMachine struct { // betteralign:ignore
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func newTaskStateMachine(initial TaskState) *taskStateMachine {
	m := &taskStateMachine{}
	m.v.Store(uint32(initial))
	return m
}

// Load returns the current state atomically.
func (m *taskStateMachine) Load() TaskState {
	return TaskState(m.v.Load())
}

// Store unconditionally stores a new state. Only used for the Completed and
// Cancelled terminal transitions, where no concurrent writer can race a
// winning CAS.
func (m *taskStateMachine) Store(s TaskState) {
	m.v.Store(uint32(s))
}

// TryTransition attempts a CAS from one state to another, returning whether
// it succeeded.
func (m *taskStateMachine) TryTransition(from, to TaskState) bool {
	return m.v.CompareAndSwap(uint32(from), uint32(to))
}

// IsTerminal reports whether the task has finished one way or another.
func (m *taskStateMachine) IsTerminal() bool {
	return m.Load().IsTerminal()
}

// IsTerminal reports whether s is a terminal state (Completed or Cancelled).
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled:
		return true
	default:
		return false
	}
}
