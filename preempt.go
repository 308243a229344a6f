package asyncrt

import (
	"sync"
	"time"
)

// PreemptTimer periodically scans every worker's currently-running Task and
// requests preemption once it has run continuously for longer than the
// configured quantum (spec section 4.4). A requested preemption is
// cooperative: it sets Task.preempt, which the task's safe point, YieldNow,
// observes via shouldYield. On Linux it also sends SIGURG (the same signal
// Go's own runtime uses for asynchronous goroutine preemption) to the
// worker's dispatch thread; the Task's entry function runs on a different
// goroutine, so the signal does not interrupt it.
type PreemptTimer struct {
	quantum time.Duration
	workers []*Worker
	logger  func() Logger
	rtID    int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// newPreemptTimer constructs a PreemptTimer; quantum <= 0 disables scanning
// entirely (Start becomes a no-op), matching WithPreemptQuantum(0)'s
// documented meaning.
func newPreemptTimer(quantum time.Duration, workers []*Worker, rtID int64, logger func() Logger) *PreemptTimer {
	return &PreemptTimer{
		quantum: quantum,
		workers: workers,
		logger:  logger,
		rtID:    rtID,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the scanning goroutine. It is a no-op if quantum <= 0.
func (p *PreemptTimer) Start() {
	if p.quantum <= 0 {
		return
	}
	p.wg.Add(1)
	go p.loop()
}

// Stop halts the scanning goroutine and waits for it to exit.
func (p *PreemptTimer) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *PreemptTimer) loop() {
	defer p.wg.Done()

	// Scan at a finer grain than the quantum itself so a task isn't
	// allowed to overrun by a full extra tick before being noticed.
	interval := p.quantum / 4
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scan()
		}
	}
}

func (p *PreemptTimer) scan() {
	now := time.Now()
	for _, w := range p.workers {
		t := w.current.Load()
		if t == nil {
			continue
		}
		if t.runningFor(now) < p.quantum {
			continue
		}
		t.requestPreempt()

		tid := w.tid.Load()
		if tid >= 0 {
			_ = signalThread(tid)
		}
	}
}
