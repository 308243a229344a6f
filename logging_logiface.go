package asyncrt

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// LogifaceAdapter adapts asyncrt's Logger interface to a
// github.com/joeycumines/logiface backend, wired by default to stumpy (the
// logiface project's own reference JSON writer). Noisy per-event-loop
// categories -- steal and preempt notices fire every scheduling quantum
// under load -- are category-rate-limited via logiface's built-in
// go-catrate integration, so a busy runtime doesn't drown its own logs.
type LogifaceAdapter struct {
	logger *logiface.Logger[*stumpy.Event]
}

// NewLogifaceAdapter wraps an existing stumpy-backed logiface.Logger. Pass
// nil to get NewDefaultLogifaceLogger's defaults.
func NewLogifaceAdapter(logger *logiface.Logger[*stumpy.Event]) *LogifaceAdapter {
	if logger == nil {
		logger = NewDefaultLogifaceLogger()
	}
	return &LogifaceAdapter{logger: logger}
}

// NewDefaultLogifaceLogger builds a stumpy JSON logger at LevelInformational
// with per-category rate limiting of at most 20 messages per second -- enough
// to see a steal/preempt burst start without a tight loop flooding stdout.
func NewDefaultLogifaceLogger() *logiface.Logger[*stumpy.Event] {
	return stumpy.L.New(
		stumpy.L.WithLevel(logiface.LevelInformational),
		stumpy.L.WithCategoryRateLimits(map[time.Duration]int{
			time.Second: 20,
		}),
	)
}

func (a *LogifaceAdapter) IsEnabled(level LogLevel) bool {
	return a.logger.Level().Enabled() && toLogifaceLevel(level) <= a.logger.Level()
}

func (a *LogifaceAdapter) Log(entry LogEntry) {
	b := a.logger.Build(toLogifaceLevel(entry.Level))
	if entry.RuntimeID != 0 {
		b = b.Int64("rt", entry.RuntimeID)
	}
	if entry.WorkerID != 0 {
		b = b.Int64("worker", entry.WorkerID)
	}
	if entry.TaskID != 0 {
		b = b.Int64("task", entry.TaskID)
	}
	for _, f := range entry.Fields {
		b = b.Any(f.Key, f.Value)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	switch entry.Category {
	case "steal", "preempt":
		b = b.Limit()
	}
	b.Log(entry.Message)
}

func toLogifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
