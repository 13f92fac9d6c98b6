package dsrtos

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Phase is one state of the switch controller's state machine (spec.md
// §4.6).
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseValidating
	PhaseEnteringCritical
	PhaseSavingState
	PhaseMigratingTasks
	PhaseActivatingNew
	PhaseExitingCritical
	PhaseVerifying
	PhaseComplete
	PhaseFailed
	PhaseRollingBack
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreparing:
		return "preparing"
	case PhaseValidating:
		return "validating"
	case PhaseEnteringCritical:
		return "entering-critical"
	case PhaseSavingState:
		return "saving-state"
	case PhaseMigratingTasks:
		return "migrating-tasks"
	case PhaseActivatingNew:
		return "activating-new"
	case PhaseExitingCritical:
		return "exiting-critical"
	case PhaseVerifying:
		return "verifying"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	case PhaseRollingBack:
		return "rolling-back"
	default:
		return "unknown"
	}
}

// Controller is the dynamic scheduler-switch controller (spec.md §4.6):
// it sequences the policy gate, the critical section, the migration
// engine, and the switch-history ring through the canonical phase
// ordering.
type Controller struct {
	cfg      Config
	registry *Registry
	migrator *Migrator
	history  *History
	crit     *CriticalSection
	tasks    TaskManager
	clock    SystemClock
	trace    Trace

	active           PluginID
	activeKind       PluginKind
	lastSwitchMicros uint64
	haveLastSwitch   bool

	// abortRequested is set by Abort and consumed at the cancellation
	// checkpoints spec.md §5 names: PREPARING, VALIDATING, and between
	// MIGRATING_TASKS batches. It is a plain int32 rather than the
	// CriticalSection's nesting counter because Abort may be called from
	// a different goroutine than the one driving RequestSwitch.
	abortRequested int32

	phase   Phase
	onPhase func(Phase)
}

// SetPhaseObserver installs a callback invoked on every phase
// transition, in order. Tests use it to assert the exact phase
// sequence a request drives (spec.md §8 scenarios 4-5); nil disables
// observation.
func (c *Controller) SetPhaseObserver(fn func(Phase)) {
	c.onPhase = fn
}

func (c *Controller) setPhase(p Phase) {
	c.phase = p
	if c.onPhase != nil {
		c.onPhase(p)
	}
}

// NewController wires a switch controller over an already-populated
// registry. initialActive is the plugin the kernel boots with.
func NewController(cfg Config, registry *Registry, migrator *Migrator, history *History, crit *CriticalSection, tasks TaskManager, clock SystemClock, trace Trace, initialActive PluginID, initialKind PluginKind) *Controller {
	return &Controller{
		cfg:        cfg,
		registry:   registry,
		migrator:   migrator,
		history:    history,
		crit:       crit,
		tasks:      tasks,
		clock:      clock,
		trace:      trace,
		active:     initialActive,
		activeKind: initialKind,
		phase:      PhaseIdle,
	}
}

// Phase returns the controller's current state-machine phase.
func (c *Controller) Phase() Phase { return c.phase }

// Active returns the currently active plugin's ID.
func (c *Controller) Active() PluginID { return c.active }

// History returns the switch-history ring.
func (c *Controller) History() *History { return c.history }

// isAllowed implements the policy gate of spec.md §4.6, which names six
// rejection conditions (source==target is checked by the caller before
// this runs, since it needs no Config or clock state):
//
//  1. runtime switches are disabled;
//  2. less than min_interval_ms has elapsed since the last switch;
//  3. the system is already in a critical section;
//  4. the policy requires idle and the running task is not the idle task;
//  5. the estimated duration (base + per_task * count) exceeds the
//     caller's deadline.
//
// A Forced request bypasses all five. The resolved reading of spec.md
// §9's open question: last_switch_time is stamped on every gate check,
// success or refusal, so MinSwitchIntervalMS throttles the rate of
// switch *attempts*, not just successful ones.
func (c *Controller) isAllowed(req SwitchRequest) error {
	now := req.RequestedAtMicros
	defer func() {
		c.lastSwitchMicros = now
		c.haveLastSwitch = true
	}()

	if req.Forced {
		return nil
	}
	if !c.cfg.RuntimeSwitchesEnabled {
		return fmt.Errorf("%w: runtime switches are disabled", ErrNotAllowed)
	}
	if c.haveLastSwitch {
		elapsedMS := (now - c.lastSwitchMicros) / 1000
		if elapsedMS < c.cfg.MinSwitchIntervalMS {
			return ErrNotAllowed
		}
	}
	if c.crit.InCriticalSection() {
		return ErrBusy
	}
	if c.cfg.RequireIdlePolicy {
		if running := c.tasks.Current(); running != nil && running.ID != c.cfg.IdleTaskID {
			return fmt.Errorf("%w: policy requires idle, running task %d is not the idle task", ErrNotAllowed, running.ID)
		}
	}
	if req.DeadlineMicros > 0 {
		count := uint64(c.tasks.TaskCount())
		estimate := c.cfg.SwitchBaseMicros + c.cfg.SwitchPerTaskMicros*count
		if estimate > req.DeadlineMicros {
			return fmt.Errorf("%w: estimated duration %dus exceeds deadline %dus", ErrNotAllowed, estimate, req.DeadlineMicros)
		}
	}
	return nil
}

// Abort requests cancellation of whatever switch is currently in
// flight. Safe to call from a different goroutine than the one driving
// RequestSwitch. The request only takes effect at the next checkpoint
// spec.md §5 names (PREPARING, VALIDATING, or between MIGRATING_TASKS
// batches); once the controller has entered the critical section,
// abort is not honored until migration exits it again (spec.md §4.6:
// "Abort during the critical section is not permitted").
func (c *Controller) Abort() {
	atomic.StoreInt32(&c.abortRequested, 1)
}

// consumeAbort reports whether an abort was requested, clearing the
// flag so a single Abort() call cancels at most one checkpoint.
func (c *Controller) consumeAbort() bool {
	return atomic.CompareAndSwapInt32(&c.abortRequested, 1, 0)
}

// tasksIndex snapshots the task manager's live list into a lookup
// closure, the shape SnapshotQueue/RestoreQueueSnapshot expect.
func (c *Controller) tasksIndex() func(TaskID) *Task {
	byID := make(map[TaskID]*Task)
	for _, t := range c.tasks.ListTasks() {
		byID[t.ID] = t
	}
	return func(id TaskID) *Task { return byID[id] }
}

// RequestSwitch drives the full phase sequence of spec.md §4.6:
// IDLE -> PREPARING -> VALIDATING -> ENTERING_CRITICAL -> SAVING_STATE
// -> MIGRATING_TASKS -> ACTIVATING_NEW -> EXITING_CRITICAL -> VERIFYING
// -> COMPLETE. A failed post-migration verification goes to FAILED, then
// ROLLING_BACK, then back to IDLE. Validation hooks that can run independently
// (target plugin init, task-count ceiling check) run concurrently via
// errgroup, bounded by ctx.
func (c *Controller) RequestSwitch(ctx context.Context, req SwitchRequest) error {
	c.setPhase(PhasePreparing)
	if c.consumeAbort() || ctx.Err() != nil {
		c.setPhase(PhaseFailed)
		c.recordFailure(req.Source, req.Target, req, 0, fmt.Errorf("%w: %w", ErrAborted, ErrNoRollbackAvailable))
		c.setPhase(PhaseIdle)
		return ErrAborted
	}

	source, err := c.registry.Get(req.Source)
	if err != nil {
		c.setPhase(PhaseFailed)
		return err
	}
	target, err := c.registry.Get(req.Target)
	if err != nil {
		c.setPhase(PhaseFailed)
		return err
	}
	if source.ID == target.ID {
		c.setPhase(PhaseFailed)
		return fmt.Errorf("%w: source and target plugin are identical", ErrInvalidParameter)
	}

	c.setPhase(PhaseValidating)
	if err := c.isAllowed(req); err != nil {
		// A policy-gate refusal never touches history or state (spec.md
		// §8 scenario 6): the request is rejected before anything moves.
		c.setPhase(PhaseIdle)
		return err
	}
	if c.consumeAbort() || ctx.Err() != nil {
		c.setPhase(PhaseFailed)
		c.recordFailure(source.ID, target.ID, req, 0, fmt.Errorf("%w: %w", ErrAborted, ErrNoRollbackAvailable))
		c.setPhase(PhaseIdle)
		return ErrAborted
	}

	liveTasks := c.tasks.ListTasks()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		default:
		}
		return initPlugin(target.Impl)
	})
	g.Go(func() error {
		if len(liveTasks) > c.cfg.MaxTasks {
			return fmt.Errorf("%w: %d live tasks exceeds max_tasks %d", ErrValidationFailed, len(liveTasks), c.cfg.MaxTasks)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		c.setPhase(PhaseFailed)
		c.recordFailure(source.ID, target.ID, req, 0, err)
		return err
	}

	startCycles := c.clock.NowMicros()

	c.setPhase(PhaseEnteringCritical)
	mask := c.crit.Enter()

	c.setPhase(PhaseSavingState)
	saveStart := c.clock.NowMicros()
	saved, err := SaveSchedulerState(source, c.cfg.StateBufferSize)
	if stats := c.migrator.Stats(); stats != nil {
		stats.SaveState.Observe(c.clock.NowMicros() - saveStart)
	}
	if err != nil {
		c.crit.Exit(mask)
		c.setPhase(PhaseFailed)
		c.recordFailure(source.ID, target.ID, req, 0, err)
		return err
	}
	tasksByID := c.tasksIndex()
	snap, err := SnapshotQueue(source.Impl, tasksByID, req.RequestedAtMicros)
	if err != nil {
		c.crit.Exit(mask)
		c.setPhase(PhaseFailed)
		c.recordFailure(source.ID, target.ID, req, 0, err)
		return err
	}

	c.setPhase(PhaseMigratingTasks)
	migStart := c.clock.NowMicros()
	migReq := MigrationRequest{
		Source:     source,
		Target:     target,
		SourceKind: c.activeKind,
		TargetKind: req.TargetKind,
		Tasks:      liveTasks,
		Strategy:   req.Strategy,
		Custom:     req.Custom,
		Preempt:    c.tasks.RequestPreemption,
		NowMicros:  req.RequestedAtMicros,
		Abort:      c.consumeAbort,
	}
	result, migErr := c.migrator.Migrate(ctx, migReq)
	if stats := c.migrator.Stats(); stats != nil {
		stats.MigrateTasks.Observe(c.clock.NowMicros() - migStart)
	}

	c.setPhase(PhaseActivatingNew)
	c.active = target.ID

	c.setPhase(PhaseExitingCritical)
	c.crit.Exit(mask)
	if stats := c.migrator.Stats(); stats != nil {
		stats.ObserveCritical(c.clock.NowMicros() - startCycles)
	}

	c.setPhase(PhaseVerifying)
	verifyErr := c.verify(result, migErr, req)

	durationMicros := c.clock.NowMicros() - startCycles

	if verifyErr != nil {
		c.setPhase(PhaseFailed)
		c.setPhase(PhaseRollingBack)
		if rbErr := c.rollback(source, target, saved, snap, tasksByID); rbErr != nil {
			verifyErr = multierror.Append(verifyErr, rbErr)
		}
		c.active = source.ID
		c.history.RecordRollback()
		c.recordFailure(source.ID, target.ID, req, durationMicros, verifyErr)
		c.setPhase(PhaseIdle)
		return verifyErr
	}

	c.setPhase(PhaseComplete)
	c.history.Record(SwitchHistoryRecord{
		ID:              newHistoryID(),
		Timestamp:       req.RequestedAtMicros,
		From:            source.ID,
		To:              target.ID,
		Reason:          req.Reason,
		DurationMicros:  durationMicros,
		TasksMigrated:   len(result.Migrated),
		Success:         true,
	})
	c.setPhase(PhaseIdle)
	return nil
}

// verify checks the post-switch invariants spec.md §8 Invariant 4 and
// §4.4's conservation rule: every candidate task is accounted for as
// either migrated or failed. Whether a partial migration forces
// rollback then depends on the request: Atomic demands all-or-nothing
// and forces rollback on any per-task failure even if Forced; absent
// Atomic, Forced tolerates a partial outcome exactly as before. An
// abort or a per-task migration timeout always forces rollback
// (spec.md §4.6 Abort, §5 "causes the current migration to fail and
// triggers rollback"), regardless of Atomic or Forced.
func (c *Controller) verify(result MigrationResult, migErr error, req SwitchRequest) error {
	if len(result.Migrated)+len(result.Failed) != result.Total {
		return fmt.Errorf("%w: migration accounted for %d of %d tasks", ErrVerificationFailed, len(result.Migrated)+len(result.Failed), result.Total)
	}
	if migErr == nil {
		return nil
	}
	if errors.Is(migErr, ErrAborted) || errors.Is(migErr, ErrTimeout) {
		return migErr
	}
	if req.Atomic {
		return migErr
	}
	if !req.Forced {
		return migErr
	}
	return nil
}

// rollback restores the source plugin's saved state and queue snapshot
// and clears whatever the migration engine admitted to target, per
// spec.md §4.6's ROLLING_BACK phase. The snapshot carries the source
// queue's pre-migration priorities and states, so restoring it
// reverses the mutations migrateOne applied in place.
func (c *Controller) rollback(source, target SchedulerDescriptor, saved SavedState, snap QueueSnapshot, tasksByID func(TaskID) *Task) error {
	var errs error
	if err := clearQueues(target.Impl); err != nil {
		errs = multierror.Append(errs, err)
	}
	restoreStart := c.clock.NowMicros()
	restoreErr := RestoreSchedulerState(source, saved)
	if stats := c.migrator.Stats(); stats != nil {
		stats.RestoreState.Observe(c.clock.NowMicros() - restoreStart)
	}
	if restoreErr != nil {
		errs = multierror.Append(errs, restoreErr)
	}
	if err := RestoreQueueSnapshot(source.Impl, snap, tasksByID); err != nil {
		errs = multierror.Append(errs, err)
	}
	if errs != nil {
		return errs.(*multierror.Error).ErrorOrNil()
	}
	return nil
}

func (c *Controller) recordFailure(from, to PluginID, req SwitchRequest, durationMicros uint64, cause error) {
	c.history.Record(SwitchHistoryRecord{
		ID:             newHistoryID(),
		Timestamp:      req.RequestedAtMicros,
		From:           from,
		To:             to,
		Reason:         req.Reason,
		DurationMicros: durationMicros,
		Success:        false,
		ErrorCode:      cause,
	})
	if c.trace != nil {
		c.trace.Tracef(TraceError, "dsrtos: switch %d->%d failed in phase %s: %v", from, to, c.phase, cause)
	}
}
