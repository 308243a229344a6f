package asyncrt

import "sync"

// PollState is the result of polling a Future: either it produced a value,
// or it parked itself against the supplied Waker and must be polled again
// only after that Waker fires.
type PollState int

const (
	// Ready indicates the Future produced a final value.
	Ready PollState = iota
	// Pending indicates the Future is not yet resolved; it has registered
	// interest via the PollContext's Waker and will not make progress
	// until that Waker is called.
	Pending
)

// Future is the non-blocking, poll-driven counterpart to JoinHandle's
// blocking Await: a worker advances a parked task by calling Poll again only
// after the task's registered Waker fires, rather than dedicating a whole
// goroutine to blocking on a channel.
type Future interface {
	// Poll attempts to make progress. It returns (value, Ready) once
	// settled, or (nil, Pending) after registering cx.Waker() to be
	// called when the Future should be polled again.
	Poll(cx *PollContext) (any, PollState)
}

// PollContext is passed to Future.Poll; it carries the Waker the Future
// must register if it cannot complete synchronously.
type PollContext struct {
	waker *Waker
}

// Waker returns the waker the polling task parked itself behind.
func (cx *PollContext) Waker() *Waker { return cx.waker }

// Waker is a one-shot, idempotent resume signal. Exactly one of its
// registered callbacks fires, no matter how many times Wake is called or
// from how many goroutines.
type Waker struct {
	once sync.Once
	fn   func()
}

// newWaker wraps fn so it runs at most once.
func newWaker(fn func()) *Waker {
	return &Waker{fn: fn}
}

// Wake fires the waker's resume callback. Safe to call concurrently and
// more than once; only the first call has an effect.
func (w *Waker) Wake() {
	w.once.Do(w.fn)
}

// taskWaiterList is the notification fan-out for a single Task's
// completion: JoinHandle.Await registers a plain channel (for a goroutine
// willing to block), while a Future composed over a JoinHandle registers a
// Waker (for a task that wants to be re-polled instead of blocking a whole
// goroutine). Both are satisfied by the same notifyAll call from
// Task.complete.
type taskWaiterList struct {
	mu     sync.Mutex
	done   bool
	ch     chan struct{}
	wakers []*Waker
}

// channel lazily allocates and returns the broadcast channel, registering
// the caller's interest. If the task has already completed, the returned
// channel is already closed.
func (l *taskWaiterList) channel() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ch == nil {
		l.ch = make(chan struct{})
		if l.done {
			close(l.ch)
		}
	}
	return l.ch
}

// addWaker registers w to be woken on completion. If the task has already
// completed, w is woken immediately without being stored.
func (l *taskWaiterList) addWaker(w *Waker) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		w.Wake()
		return
	}
	l.wakers = append(l.wakers, w)
	l.mu.Unlock()
}

// notifyAll marks the list done, closes the broadcast channel if one was
// ever requested, and fires every registered Waker. Idempotent; Task.complete
// guards the call with sync.Once so this only ever runs once per Task, but
// notifyAll tolerates repeat calls regardless.
func (l *taskWaiterList) notifyAll() {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return
	}
	l.done = true
	if l.ch != nil {
		close(l.ch)
	}
	wakers := l.wakers
	l.wakers = nil
	l.mu.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
}
