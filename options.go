// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import "time"

// runtimeOptions holds configuration resolved from RuntimeOption values and
// RUNTIME_* environment overrides (see env.go).
type runtimeOptions struct {
	workers        int
	preemptQuantum time.Duration
	stackSize      int
	metricsEnabled bool
	logger         Logger
}

// RuntimeOption configures a Runtime at construction time.
type RuntimeOption interface {
	applyRuntime(*runtimeOptions) error
}

type runtimeOptionFunc func(*runtimeOptions) error

func (f runtimeOptionFunc) applyRuntime(opts *runtimeOptions) error { return f(opts) }

// WithWorkers sets the number of Worker goroutines the Runtime starts. Must
// be at least 1; New returns ErrNoWorkers otherwise. Defaults to
// runtime.NumCPU() unless RUNTIME_WORKERS is set.
func WithWorkers(n int) RuntimeOption {
	return runtimeOptionFunc(func(opts *runtimeOptions) error {
		opts.workers = n
		return nil
	})
}

// WithPreemptQuantum sets how long a Task may run before the PreemptTimer
// requests it yield at its next safe point. Defaults to 10ms unless
// RUNTIME_PREEMPT_MS is set. A value of zero disables preemption entirely.
func WithPreemptQuantum(d time.Duration) RuntimeOption {
	return runtimeOptionFunc(func(opts *runtimeOptions) error {
		opts.preemptQuantum = d
		return nil
	})
}

// WithStackSize sets the recorded stack-size budget validated against each
// spawned Task, per spec section 3. Defaults to DefaultStackSize unless
// RUNTIME_STACK_KIB is set.
func WithStackSize(bytes int) RuntimeOption {
	return runtimeOptionFunc(func(opts *runtimeOptions) error {
		opts.stackSize = bytes
		return nil
	})
}

// WithMetrics enables latency and throughput metrics collection. This adds
// minimal overhead (record task wait/run latency, update queue depths after
// each dispatch); disable in latency-critical hot paths.
func WithMetrics(enabled bool) RuntimeOption {
	return runtimeOptionFunc(func(opts *runtimeOptions) error {
		opts.metricsEnabled = enabled
		return nil
	})
}

// WithLogger installs a structured Logger; nil disables logging. See
// logging.go and the logiface adapter in logging_logiface.go.
func WithLogger(l Logger) RuntimeOption {
	return runtimeOptionFunc(func(opts *runtimeOptions) error {
		opts.logger = l
		return nil
	})
}

// resolveRuntimeOptions applies RuntimeOption values over defaults merged
// with RUNTIME_* environment overrides.
func resolveRuntimeOptions(opts []RuntimeOption) (*runtimeOptions, error) {
	cfg := defaultRuntimeOptionsFromEnv()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.workers < 1 {
		return nil, ErrNoWorkers
	}
	if err := validateStackSize(cfg.stackSize); err != nil {
		return nil, err
	}
	return cfg, nil
}
