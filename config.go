package dsrtos

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the compile-time configuration values spec.md §6 leaves
// as build-time constants on the real target (maximum priorities,
// maximum tasks, stack caps, switch budgets, FPU presence, history
// depth, state buffer size, migration batch cap). A zero Config is not
// valid; use DefaultConfig and override selectively.
type Config struct {
	MaxPriorities int `toml:"max_priorities"`
	MaxTasks      int `toml:"max_tasks"`
	MaxStackBytes int `toml:"max_stack_bytes"`

	TargetCycles uint64 `toml:"target_cycles"`
	MaxCycles    uint64 `toml:"max_cycles"`

	FPUPresent bool `toml:"fpu_present"`

	HistoryDepth    int `toml:"history_depth"`
	StateBufferSize int `toml:"state_buffer_size"`

	MigrationBatchCap int `toml:"migration_batch_cap"`

	MinSwitchIntervalMS  uint64 `toml:"min_switch_interval_ms"`
	MaxCriticalSectionUS uint64 `toml:"max_critical_section_us"`
	MigrationTimeoutUS   uint64 `toml:"migration_timeout_us"`

	// RuntimeSwitchesEnabled is the runtime on/off switch the policy
	// gate checks (spec.md §4.6: "runtime switches are disabled").
	RuntimeSwitchesEnabled bool `toml:"runtime_switches_enabled"`

	// RequireIdlePolicy, when set, refuses a switch unless the
	// currently running task is IdleTaskID (spec.md §4.6: "the policy
	// requires idle and the running task is not the idle task").
	RequireIdlePolicy bool   `toml:"require_idle_policy"`
	IdleTaskID        TaskID `toml:"idle_task_id"`

	// SwitchBaseMicros and SwitchPerTaskMicros parameterize the
	// estimated-duration gate (spec.md §4.6: "the estimated duration
	// (base + per_task * count) exceeds the caller's deadline").
	SwitchBaseMicros    uint64 `toml:"switch_base_micros"`
	SwitchPerTaskMicros uint64 `toml:"switch_per_task_micros"`
}

// DefaultConfig returns the defaults named throughout spec.md: 256
// priorities, a 16-deep switch history, a 4096-byte state buffer, a
// batch cap of 16 (maximum 32), a 100 µs critical-section budget, and a
// 50 µs per-task migration timeout.
func DefaultConfig() Config {
	return Config{
		MaxPriorities:        256,
		MaxTasks:             256,
		MaxStackBytes:        65536,
		TargetCycles:         140,
		MaxCycles:            250,
		FPUPresent:           true,
		HistoryDepth:         16,
		StateBufferSize:      4096,
		MigrationBatchCap:    16,
		MinSwitchIntervalMS:  100,
		MaxCriticalSectionUS: 100,
		MigrationTimeoutUS:   50,

		RuntimeSwitchesEnabled: true,
		RequireIdlePolicy:      false,
		IdleTaskID:             0,

		SwitchBaseMicros:    20,
		SwitchPerTaskMicros: 2,
	}
}

// LoadConfigFile loads configuration overrides from a TOML file on top
// of DefaultConfig. Unset fields in the file keep their default value.
// Nothing in this module calls it (cmd/dsrtos-sim uses DefaultConfig);
// the core package never reads the filesystem on its own.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("dsrtos: config file %q: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("dsrtos: decode config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internally-inconsistent values.
// spec.md bounds the migration batch cap at 32 and requires TargetCycles
// <= MaxCycles.
func (c Config) Validate() error {
	if c.MigrationBatchCap <= 0 || c.MigrationBatchCap > 32 {
		return fmt.Errorf("%w: migration_batch_cap must be in [1,32]", ErrInvalidParameter)
	}
	if c.TargetCycles > c.MaxCycles {
		return fmt.Errorf("%w: target_cycles must not exceed max_cycles", ErrInvalidParameter)
	}
	if c.HistoryDepth <= 0 {
		return fmt.Errorf("%w: history_depth must be positive", ErrInvalidParameter)
	}
	if c.StateBufferSize <= 0 {
		return fmt.Errorf("%w: state_buffer_size must be positive", ErrInvalidParameter)
	}
	if c.MaxPriorities <= 0 {
		return fmt.Errorf("%w: max_priorities must be positive", ErrInvalidParameter)
	}
	return nil
}
