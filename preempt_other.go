//go:build !linux

package asyncrt

// currentThreadID and signalThread are Linux-only enhancements; on other
// platforms PreemptTimer falls back to its portable baseline: setting
// Task.preempt and relying on the task's own cooperative safe points
// (YieldNow) to observe it.
func currentThreadID() int32 { return -1 }

func signalThread(_ int32) error { return nil }
