package asyncrt

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics: how long tasks wait before running,
// how long they run once dispatched, queue depths across the GlobalQueue
// and LocalQueues, and overall throughput. Metrics are optional, low
// overhead, and thread-safe; attach via WithMetrics(true).
//
// Example:
//
//	rt, _ := New(WithMetrics(true))
//	stats := rt.Metrics()
//	fmt.Printf("TPS: %.2f, P99 wait: %v\n", stats.TPS, stats.Wait.P99)
type Metrics struct {
	// Wait tracks time spent Runnable before a worker dispatches the task.
	Wait LatencyMetrics

	// Run tracks time spent actually executing, per dispatch (a
	// preempted-and-resumed task accumulates multiple samples).
	Run LatencyMetrics

	// Queue depth metrics across the GlobalQueue and LocalQueues.
	Queue QueueMetrics

	mu sync.Mutex

	// TPS is the completed-task throughput, sampled periodically from a
	// TPSCounter.
	TPS float64
}

// sampleSize bounds the legacy exact-percentile sample buffer.
const sampleSize = 1000

// LatencyMetrics tracks a latency distribution, using the P-Square
// algorithm for O(1) streaming percentile estimation once enough samples
// have accumulated, and falling back to an exact sort for the first few
// samples (where P-Square's estimate hasn't stabilized yet).
type LatencyMetrics struct {
	psquare *percentileSet

	mu sync.RWMutex

	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	Mean time.Duration
	Sum  time.Duration
}

// Record adds a latency sample, called once per dispatch.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.psquare == nil {
		l.psquare = newPercentileSet(0.50, 0.90, 0.95, 0.99)
	}
	l.psquare.Update(float64(duration))

	if l.sampleCount >= sampleSize {
		l.Sum -= l.samples[l.sampleIdx]
	}
	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx = (l.sampleIdx + 1) % sampleSize
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample recomputes the cached percentile fields from collected samples and
// returns the number of samples that contributed. Below 5 samples the
// P-Square estimate hasn't converged, so an exact sort is used instead.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	if count < 5 || l.psquare == nil {
		l.sampleExact(count)
		return count
	}

	l.P50 = time.Duration(l.psquare.Quantile(0))
	l.P90 = time.Duration(l.psquare.Quantile(1))
	l.P95 = time.Duration(l.psquare.Quantile(2))
	l.P99 = time.Duration(l.psquare.Quantile(3))
	l.Max = time.Duration(l.psquare.Max())
	l.Mean = l.Sum / time.Duration(count)
	return count
}

// sampleExact computes exact percentiles by sorting the first count
// samples; must be called with mu held.
func (l *LatencyMetrics) sampleExact(count int) {
	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	l.P50 = sorted[percentileIndex(count, 50)]
	l.P90 = sorted[percentileIndex(count, 90)]
	l.P95 = sorted[percentileIndex(count, 95)]
	l.P99 = sorted[percentileIndex(count, 99)]
	l.Max = sorted[count-1]
	l.Mean = l.Sum / time.Duration(count)
}

func percentileIndex(n, p int) int {
	idx := (p * n) / 100
	if idx >= n {
		return n - 1
	}
	return idx
}

// depthGauge is a current/max/EMA tracker shared by every QueueMetrics
// dimension (global depth, local depth, steals; preempts are a plain
// counter); collapsing the three near-identical field groups into one
// small type removes the copy-pasted current/max/EMA update logic that
// would otherwise exist once per dimension.
type depthGauge struct {
	current     int
	max         int
	avg         float64
	initialized bool
}

// update records a new sample, refreshing current/max and advancing the
// exponential moving average (alpha=0.1, warmstarted to the first sample).
func (g *depthGauge) update(v int) {
	g.current = v
	if v > g.max {
		g.max = v
	}
	if !g.initialized {
		g.avg = float64(v)
		g.initialized = true
	} else {
		g.avg = 0.9*g.avg + 0.1*float64(v)
	}
}

// QueueMetrics tracks depth statistics across the scheduler's queue tiers
// (the shared GlobalQueue, the sum of per-worker LocalQueues) plus the
// scheduler events that move tasks between them: steals and preemptions.
type QueueMetrics struct {
	mu sync.RWMutex

	global depthGauge
	local  depthGauge
	steal  depthGauge

	// preemptTotal counts PreemptTimer-induced yields across the Runtime's
	// lifetime. Unlike the depth gauges above, this is a monotonic event
	// count, not a point-in-time sample, so it lives outside depthGauge.
	preemptTotal atomic.Int64
}

// UpdateGlobal records the current GlobalQueue depth.
func (q *QueueMetrics) UpdateGlobal(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.global.update(depth)
}

// UpdateLocal records the current aggregate LocalQueue depth across all
// workers.
func (q *QueueMetrics) UpdateLocal(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.local.update(depth)
}

// UpdateSteals records how many tasks were pulled from a peer's LocalQueue
// in the most recent steal.
func (q *QueueMetrics) UpdateSteals(count int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steal.update(count)
}

// UpdatePreempts records count additional PreemptTimer-induced yields, so
// operators can see how often the quantum is actually being hit under
// load.
func (q *QueueMetrics) UpdatePreempts(count int) {
	q.preemptTotal.Add(int64(count))
}

// GlobalCurrent returns the most recently recorded GlobalQueue depth.
func (q *QueueMetrics) GlobalCurrent() int { q.mu.RLock(); defer q.mu.RUnlock(); return q.global.current }

// GlobalMax returns the largest GlobalQueue depth observed so far.
func (q *QueueMetrics) GlobalMax() int { q.mu.RLock(); defer q.mu.RUnlock(); return q.global.max }

// GlobalAvg returns the exponential moving average of GlobalQueue depth.
func (q *QueueMetrics) GlobalAvg() float64 { q.mu.RLock(); defer q.mu.RUnlock(); return q.global.avg }

// LocalCurrent returns the most recently recorded aggregate LocalQueue
// depth.
func (q *QueueMetrics) LocalCurrent() int { q.mu.RLock(); defer q.mu.RUnlock(); return q.local.current }

// LocalMax returns the largest aggregate LocalQueue depth observed so far.
func (q *QueueMetrics) LocalMax() int { q.mu.RLock(); defer q.mu.RUnlock(); return q.local.max }

// LocalAvg returns the exponential moving average of aggregate LocalQueue
// depth.
func (q *QueueMetrics) LocalAvg() float64 { q.mu.RLock(); defer q.mu.RUnlock(); return q.local.avg }

// StealCurrent returns the size of the most recent steal batch.
func (q *QueueMetrics) StealCurrent() int { q.mu.RLock(); defer q.mu.RUnlock(); return q.steal.current }

// StealMax returns the largest steal batch observed so far.
func (q *QueueMetrics) StealMax() int { q.mu.RLock(); defer q.mu.RUnlock(); return q.steal.max }

// StealAvg returns the exponential moving average of steal batch size.
func (q *QueueMetrics) StealAvg() float64 { q.mu.RLock(); defer q.mu.RUnlock(); return q.steal.avg }

// PreemptTotal returns the total number of PreemptTimer-induced yields
// recorded so far.
func (q *QueueMetrics) PreemptTotal() int {
	return int(q.preemptTotal.Load())
}

// TPSCounter tracks completed-task throughput over a rolling time window,
// using a ring of fixed-duration buckets that rotate forward as time
// passes, instead of storing a timestamp per completion.
type TPSCounter struct {
	lastRotation atomic.Value // time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	mu           sync.Mutex
}

// NewTPSCounter creates a throughput counter covering windowSize, divided
// into buckets of bucketSize (so windowSize/bucketSize must be >= 1).
// Smaller buckets give finer-grained TPS precision at the cost of more
// frequent rotation bookkeeping.
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	if windowSize <= 0 {
		panic("asyncrt: windowSize must be positive")
	}
	if bucketSize <= 0 {
		panic("asyncrt: bucketSize must be positive")
	}
	if bucketSize > windowSize {
		panic("asyncrt: bucketSize cannot exceed windowSize")
	}

	counter := &TPSCounter{
		buckets:    make([]int64, int(windowSize/bucketSize)),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

// Increment records one completed task in the current bucket.
func (t *TPSCounter) Increment() {
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

// rotate advances the bucket window to the current time, shifting out
// buckets that have aged past bucketSize and zeroing new ones. A clock
// jump (suspend/resume, NTP step) larger than the whole window just resets
// every bucket rather than replaying a large shift count.
func (t *TPSCounter) rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	last := t.lastRotation.Load().(time.Time)
	elapsed := now.Sub(last)

	advance := int64(elapsed) / int64(t.bucketSize)
	switch {
	case advance < 0, advance >= int64(len(t.buckets)):
		for i := range t.buckets {
			t.buckets[i] = 0
		}
		t.lastRotation.Store(now)
		return
	case advance == 0:
		return
	}

	n := int(advance)
	copy(t.buckets, t.buckets[n:])
	for i := len(t.buckets) - n; i < len(t.buckets); i++ {
		t.buckets[i] = 0
	}
	t.lastRotation.Store(last.Add(time.Duration(n) * t.bucketSize))
}

// TPS returns the current throughput estimate: total completions across
// all live buckets divided by the monitored duration.
func (t *TPSCounter) TPS() float64 {
	t.rotate()

	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, c := range t.buckets {
		sum += c
	}
	if sum == 0 {
		return 0
	}

	monitored := float64(len(t.buckets)) * t.bucketSize.Seconds()
	return float64(sum) / monitored
}
