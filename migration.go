package dsrtos

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// MigrationStrategy selects how the migration engine orders and
// re-prioritizes tasks moving between plugins (spec.md §4.4).
type MigrationStrategy int

const (
	PreserveOrder MigrationStrategy = iota
	PriorityBased
	DeadlineBased
	CustomStrategy
)

func (s MigrationStrategy) String() string {
	switch s {
	case PreserveOrder:
		return "preserve-order"
	case PriorityBased:
		return "priority-based"
	case DeadlineBased:
		return "deadline-based"
	case CustomStrategy:
		return "custom"
	default:
		return "unknown"
	}
}

// CustomMigrationFunc is invoked in place of a built-in strategy when
// MigrationStrategy is CustomStrategy. It receives the candidate tasks
// and returns them in the order they should be migrated; if nil, the
// engine falls back to PreserveOrder (spec.md §4.4: "otherwise fall
// back to preserve-order").
type CustomMigrationFunc func(tasks []*Task) []*Task

// MigrationRequest bundles everything one migration batch run needs.
type MigrationRequest struct {
	Source, Target         SchedulerDescriptor
	SourceKind, TargetKind PluginKind
	Tasks                  []*Task
	Strategy               MigrationStrategy
	Custom                 CustomMigrationFunc
	// Progress is called after each batch exits its critical section,
	// with (completed, total) counts (spec.md §4.4 "Batching").
	Progress func(completed, total int)
	// Preempt requests that a RUNNING task be made READY. Called at
	// most once per task by the feasibility check (spec.md §9's open
	// question, resolved: preempt once, then re-check).
	Preempt func(*Task) error
	NowMicros uint64
	// Abort is polled between batches; returning true cancels the rest
	// of the migration (spec.md §5: abortable "between batches").
	Abort func() bool
}

// MigrationResult reports the outcome of a Migrate call.
type MigrationResult struct {
	Migrated []TaskID
	Failed   []TaskID
	Total    int
}

// Migrator runs the migration engine: strategy ordering, the six-step
// per-task protocol, batching with a progress callback, and the
// feasibility check.
type Migrator struct {
	cfg         Config
	priorityMap *PriorityMap
	trace       Trace
	stats       *MigrationStats
	crit        *CriticalSection
	clock       SystemClock
}

// NewMigrator returns a Migrator bounded by cfg's batch cap. clock backs
// the per-task migration timeout of spec.md §5.
func NewMigrator(cfg Config, priorityMap *PriorityMap, trace Trace, stats *MigrationStats, crit *CriticalSection, clock SystemClock) *Migrator {
	return &Migrator{cfg: cfg, priorityMap: priorityMap, trace: trace, stats: stats, crit: crit, clock: clock}
}

// Stats returns the migration engine's timing statistics, for the
// controller to feed measured phase durations into.
func (m *Migrator) Stats() *MigrationStats { return m.stats }

// batchSize returns the configured batch cap, clamped to [1, 32] as
// spec.md §4.4 requires ("default 16, maximum 32").
func (m *Migrator) batchSize() int {
	n := m.cfg.MigrationBatchCap
	if n <= 0 {
		n = 16
	}
	if n > 32 {
		n = 32
	}
	return n
}

// order sorts tasks according to the requested strategy.
func (m *Migrator) order(req MigrationRequest) []*Task {
	tasks := append([]*Task(nil), req.Tasks...)
	switch req.Strategy {
	case PreserveOrder:
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt < tasks[j].CreatedAt
		})
	case PriorityBased:
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].EffectivePriority < tasks[j].EffectivePriority
		})
	case DeadlineBased:
		sort.SliceStable(tasks, func(i, j int) bool {
			return deadlineAbsolute(tasks[i]) < deadlineAbsolute(tasks[j])
		})
	case CustomStrategy:
		if req.Custom != nil {
			return req.Custom(tasks)
		}
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt < tasks[j].CreatedAt
		})
	}
	return tasks
}

func deadlineAbsolute(t *Task) uint64 {
	if t.Deadline == nil {
		return ^uint64(0) // no deadline sorts last
	}
	return t.Deadline.AbsoluteMicros
}

// isMigratable implements the feasibility check of spec.md §4.4.2,
// including the preemption-before-migrate resolution of the open
// question in spec.md §9: a RUNNING task is given one chance to be
// preempted to READY before being declared infeasible.
func isMigratable(t *Task, targetKind PluginKind, maxStackBytes int, preempt func(*Task) error) error {
	if err := ValidateTCB(t); err != nil {
		return err
	}
	if t.State == StateTerminated || t.State == StateSuspended {
		return ErrNotMigratable
	}
	if t.State == StateRunning {
		if preempt == nil {
			return ErrNotMigratable
		}
		if err := preempt(t); err != nil {
			return ErrNotMigratable
		}
		if t.State == StateRunning {
			return ErrNotMigratable
		}
	}
	if int(t.StackSize) > maxStackBytes {
		return ErrNotMigratable
	}
	if targetKind == KindEDF && t.Deadline == nil {
		return ErrNotMigratable
	}
	return nil
}

// migrateOne runs the six-step per-task protocol of spec.md §4.4.
func (m *Migrator) migrateOne(req MigrationRequest, t *Task) error {
	// (i) prepare: clear plugin-private scratch and the remaining time
	// slice. Task carries no event flags, and RuntimeStats is left as is.
	t.PluginScratch = make(map[string]any)
	t.TimeSliceRemaining = 0

	savedPriority := t.EffectivePriority

	// (ii) remove from source.
	if err := removeTaskIdempotent(req.Source.Impl, t.ID); err != nil {
		return err
	}

	// (iii) mutate priority if the strategy demands it.
	switch req.Strategy {
	case PriorityBased:
		t.EffectivePriority = m.priorityMap.Remap(req.Source.ID, req.Target.ID, t.EffectivePriority)
	case DeadlineBased:
		remaining := uint64(0)
		if t.Deadline != nil {
			remaining = t.Deadline.RemainingTicks(req.NowMicros)
		}
		t.EffectivePriority = deadlineBandPriority(remaining)
	}

	readmit := func(cause error) error {
		t.EffectivePriority = savedPriority
		if addErr := req.Source.Impl.AddTask(t); addErr != nil {
			return multierror.Append(cause, addErr)
		}
		return cause
	}

	// can_accept gate before admitting to the target.
	if !canAccept(req.Target.Impl, t) {
		return readmit(ErrNotMigratable)
	}

	// (iv) add to target.
	if err := req.Target.Impl.AddTask(t); err != nil {
		return readmit(err)
	}

	// (v) finalize: let the target adjust for the admitted task's
	// priority. No task counters are reset here.
	if err := adjustPriority(req.Target.Impl, t); err != nil {
		// Best-effort: the task is already admitted to the target;
		// adjustPriority failing does not roll back admission, it
		// only fails to apply a cosmetic adjustment.
		if m.trace != nil {
			m.trace.Tracef(TraceWarn, "dsrtos: adjustPriority failed for task %d: %v", t.ID, err)
		}
	}
	return nil
}

// Migrate runs the full batched migration. It never returns a hard
// error for per-task failures; instead it reports every failed task in
// the result and returns a *PartialSuccess (wrapped with the
// individual causes via multierror) when Completed < Total, so the
// switch controller can decide whether to roll back.
//
// Between batches, ctx and req.Abort are polled (spec.md §5: a switch
// may be aborted externally "between batches"; not mid-batch, since a
// batch runs inside its own critical section). A per-task migration
// timeout (spec.md §5, cfg.MigrationTimeoutUS) fails the whole call
// immediately, wrapping ErrTimeout, rather than being folded into the
// per-task failure accounting: a timeout means the engine itself missed
// its bound, not that one task was infeasible.
func (m *Migrator) Migrate(ctx context.Context, req MigrationRequest) (MigrationResult, error) {
	ordered := m.order(req)
	total := len(ordered)
	result := MigrationResult{Total: total}
	if total == 0 {
		return result, nil
	}

	var causes error
	batch := m.batchSize()

	for start := 0; start < total; start += batch {
		if start > 0 {
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
			default:
			}
			if req.Abort != nil && req.Abort() {
				return result, ErrAborted
			}
		}

		end := start + batch
		if end > total {
			end = total
		}

		mask := m.crit.Enter()
		for _, t := range ordered[start:end] {
			if err := isMigratable(t, req.TargetKind, m.cfg.MaxStackBytes, req.Preempt); err != nil {
				result.Failed = append(result.Failed, t.ID)
				causes = multierror.Append(causes, err)
				continue
			}

			var taskStart uint64
			if m.clock != nil {
				taskStart = m.clock.NowMicros()
			}
			if err := m.migrateOne(req, t); err != nil {
				result.Failed = append(result.Failed, t.ID)
				causes = multierror.Append(causes, err)
				continue
			}
			result.Migrated = append(result.Migrated, t.ID)

			if m.clock != nil && m.cfg.MigrationTimeoutUS > 0 {
				if elapsed := m.clock.NowMicros() - taskStart; elapsed > m.cfg.MigrationTimeoutUS {
					m.crit.Exit(mask)
					return result, fmt.Errorf("%w: task %d migration took %dus, over the %dus per-task budget", ErrTimeout, t.ID, elapsed, m.cfg.MigrationTimeoutUS)
				}
			}
		}
		m.crit.Exit(mask)

		if req.Progress != nil {
			req.Progress(len(result.Migrated)+len(result.Failed), total)
		}
	}

	if len(result.Failed) > 0 {
		ps := &PartialSuccess{Completed: len(result.Migrated), Total: total}
		return result, multierror.Append(causes, ps).ErrorOrNil()
	}
	return result, nil
}
