package asyncrt

import (
	"runtime"
	"testing"
	"time"
)

func Test_defaultRuntimeOptionsFromEnv_NoOverrides(t *testing.T) {
	cfg := defaultRuntimeOptionsFromEnv()

	if cfg.workers != runtime.NumCPU() {
		t.Errorf("workers = %d, want NumCPU() (%d)", cfg.workers, runtime.NumCPU())
	}
	if cfg.preemptQuantum != defaultPreemptQuantum {
		t.Errorf("preemptQuantum = %v, want %v", cfg.preemptQuantum, defaultPreemptQuantum)
	}
	if cfg.stackSize != DefaultStackSize {
		t.Errorf("stackSize = %d, want %d", cfg.stackSize, DefaultStackSize)
	}
}

func Test_defaultRuntimeOptionsFromEnv_Overrides(t *testing.T) {
	t.Setenv(envWorkers, "3")
	t.Setenv(envPreempt, "25")
	t.Setenv(envStackKiB, "16")

	cfg := defaultRuntimeOptionsFromEnv()

	if cfg.workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.workers)
	}
	if cfg.preemptQuantum != 25*time.Millisecond {
		t.Errorf("preemptQuantum = %v, want 25ms", cfg.preemptQuantum)
	}
	if cfg.stackSize != 16*1024 {
		t.Errorf("stackSize = %d, want %d", cfg.stackSize, 16*1024)
	}
}

func Test_defaultRuntimeOptionsFromEnv_InvalidValuesIgnored(t *testing.T) {
	t.Setenv(envWorkers, "not-a-number")
	t.Setenv(envPreempt, "-5")
	t.Setenv(envStackKiB, "0")

	cfg := defaultRuntimeOptionsFromEnv()

	if cfg.workers != runtime.NumCPU() {
		t.Errorf("workers = %d, want NumCPU() (%d) when env value is not numeric", cfg.workers, runtime.NumCPU())
	}
	if cfg.stackSize != DefaultStackSize {
		t.Errorf("stackSize = %d, want default when env value is 0", cfg.stackSize)
	}
}

func Test_defaultRuntimeOptionsFromEnv_ZeroPreemptAccepted(t *testing.T) {
	t.Setenv(envPreempt, "0")

	cfg := defaultRuntimeOptionsFromEnv()

	if cfg.preemptQuantum != 0 {
		t.Errorf("preemptQuantum = %v, want 0 (explicit disable via env)", cfg.preemptQuantum)
	}
}

func Test_RuntimeOption_OverridesEnv(t *testing.T) {
	t.Setenv(envWorkers, "7")

	cfg, err := resolveRuntimeOptions([]RuntimeOption{WithWorkers(2)})
	if err != nil {
		t.Fatalf("resolveRuntimeOptions() error = %v", err)
	}
	if cfg.workers != 2 {
		t.Errorf("workers = %d, want 2 (explicit RuntimeOption beats env)", cfg.workers)
	}
}
