package asyncrt

import (
	"sync/atomic"
)

// localQueueCapacity is the fixed size of each Worker's LocalQueue, per spec
// section 4.2. Must be a power of two so index masking replaces modulo.
const localQueueCapacity = 256

// LockFreeDeque is a bounded single-producer, multi-consumer ring: the
// owning worker pushes at the tail without synchronization, while the owner
// itself and any number of thieves draw from the head via compare-and-swap.
// Local pop and steal race for the same slot through the same CAS, so both
// return tasks in the order they were pushed (FIFO) rather than LIFO — a
// worker's own backlog drains in the order it queued it, which is what lets
// a fairness measurement (stolen-count, drain order) reason about the queue
// without caring whether the taker was the owner or a thief.
//
// Grounded on the CAS head/tail counter and power-of-two index masking
// technique used by the lock-free ring buffer and work-stealer in the
// reference pack's worker-pool examples; unlike a classic Chase-Lev deque it
// never resizes (on overflow the owner spills to the GlobalQueue instead,
// spec section 4.2's explicit design choice to keep steal lock-free without
// a grow-and-copy path) and it never pops from the tail.
type LockFreeDeque struct { // betteralign:ignore
	_ [64]byte
	// head is advanced only by CAS in takeHead, which the owner's
	// PopBottom and thieves' StealTop both run.
	head atomic.Uint64
	_    [56]byte
	// tail is advanced only by the owner; read with Acquire by thieves to
	// learn whether anything remains to steal.
	tail atomic.Uint64
	_    [56]byte
	buf  [localQueueCapacity]atomic.Pointer[Task]
}

// LocalQueue is the public name for a worker's LockFreeDeque, matching the
// package doc's architecture overview.
type LocalQueue = LockFreeDeque

// NewLockFreeDeque constructs an empty deque.
func NewLockFreeDeque() *LockFreeDeque {
	return &LockFreeDeque{}
}

func (d *LockFreeDeque) mask(i uint64) uint64 {
	return i & (localQueueCapacity - 1)
}

// Len reports the number of elements currently in the deque. Racy by
// nature (another goroutine may be mid-steal) but bounded: spec section 8
// requires 0 <= tail-head <= N to always hold for any single observation.
func (d *LockFreeDeque) Len() int {
	t := d.tail.Load()
	h := d.head.Load()
	if t < h {
		return 0
	}
	return int(t - h)
}

// PushBottom is called only by the owning worker. It returns false if the
// deque is full, in which case the caller should spill to the GlobalQueue.
func (d *LockFreeDeque) PushBottom(t *Task) bool {
	tail := d.tail.Load()
	head := d.head.Load()
	if tail-head >= localQueueCapacity {
		return false
	}
	d.buf[d.mask(tail)].Store(t)
	d.tail.Store(tail + 1)
	return true
}

// PopBottom is called by the owning worker to take its own next task. Despite
// the name (kept for the worker's "pop from my own queue" call site) it reads
// from the same end StealTop does: head. The owner is just another racer in
// the CAS loop, which is what keeps local-pop and steal-drain order identical
// (FIFO) instead of the owner seeing its own queue in reverse.
func (d *LockFreeDeque) PopBottom() (*Task, bool) {
	return d.takeHead()
}

// StealTop is called by any goroutine other than the owner. It advances
// head only via CAS, so concurrent thieves never both observe success for
// the same slot (the exactly-once observation property of spec section 8).
func (d *LockFreeDeque) StealTop() (*Task, bool) {
	return d.takeHead()
}

// takeHead is the shared CAS race both PopBottom and StealTop run: whoever's
// CAS on head lands first gets the slot, owner and thieves alike.
func (d *LockFreeDeque) takeHead() (*Task, bool) {
	for {
		head := d.head.Load()
		tail := d.tail.Load()
		if head >= tail {
			return nil, false
		}
		task := d.buf[d.mask(head)].Load()
		if task == nil {
			// The owner is mid-push at this slot; retry.
			continue
		}
		if d.head.CompareAndSwap(head, head+1) {
			return task, true
		}
		// Lost the race to another thief or the owner; retry.
	}
}

// StealBatch steals up to max tasks in one pass, for the worker's
// global-queue-drain-style fairness path (spec section 4.2: a worker may
// steal several tasks at once rather than one-at-a-time to amortize the
// CAS cost). It returns as many as it acquired before reaching max or
// running out; a lost CAS race is retried inside takeHead.
func (d *LockFreeDeque) StealBatch(max int) []*Task {
	if max <= 0 {
		return nil
	}
	out := make([]*Task, 0, max)
	for len(out) < max {
		task, ok := d.StealTop()
		if !ok {
			break
		}
		out = append(out, task)
	}
	return out
}
