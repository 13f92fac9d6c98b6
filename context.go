package dsrtos

import "fmt"

// Exception priority levels for PendSV and SVC. Cortex-M priority
// values are inverted (lower number = more urgent); PendSV is
// programmed to the weakest (numerically highest) level so it always
// tail-chains after every other pending exception, and SVC to the
// strongest so no other exception preempts the first-task bootstrap or
// a yield request.
const (
	pendSVPriorityLevel uint8 = 0xFF
	svcPriorityLevel    uint8 = 0x00
)

// exitTrampolineMarker stands in for the address of the kernel's task
// exit trampoline, written into a synthesized frame's LR field.
const exitTrampolineMarker uint32 = 0xFFFFFFF1

// Engine is the context-switch engine (spec.md §4.1). It owns the
// mutable singletons spec.md §9 calls out (current-task pointer,
// next-task pointer, cycle statistics) behind a constructor-returned
// handle rather than package globals.
//
// This is a hosted software model, not a literal PendSV handler: the
// eleven-step algorithm of spec.md §4.1 runs synchronously inside
// SwitchTo/SwitchFromISR rather than being deferred to an asynchronous
// exception. Stack validation, statistics, FPU/MPU bookkeeping, and
// state transitions are all real; resuming a previously-suspended
// task's arbitrary execution point is not something a hosted Go
// process can do, so only the very first task (the bootstrap target of
// the first SwitchTo call) actually has its entry function invoked.
// Every other task transition is exercised as the bookkeeping the real
// hardware would perform around the (unexecuted) resume.
type Engine struct {
	hal   HAL
	panic PanicHandler
	trace Trace
	cfg   Config
	crit  *CriticalSection

	current *Task
	next    *Task

	initialized  bool
	bootstrapped bool
	inHandler    bool

	stats *CycleStats
}

// NewEngine returns an uninitialized Engine. Call Init before any other
// method.
func NewEngine(hal HAL, panicHandler PanicHandler, trace Trace, cfg Config, crit *CriticalSection) *Engine {
	return &Engine{hal: hal, panic: panicHandler, trace: trace, cfg: cfg, crit: crit}
}

// Init programs PendSV/SVC priorities, enables the cycle counter,
// enables FPU access with automatic + lazy state preservation, and
// zeroes statistics (spec.md §4.1).
func (e *Engine) Init() error {
	if e.initialized {
		return ErrAlreadyInitialized
	}
	e.hal.SetPendSVPriority(pendSVPriorityLevel)
	e.hal.SetSVCPriority(svcPriorityLevel)
	e.hal.EnableCycleCounter()
	if e.cfg.FPUPresent {
		e.hal.EnableFPU(true, true)
	}
	e.stats = NewCycleStats(e.cfg.TargetCycles, e.cfg.MaxCycles)
	e.initialized = true
	return nil
}

// Stats returns the engine's cycle statistics.
func (e *Engine) Stats() *CycleStats { return e.stats }

// Current returns the currently running task, or nil before the first
// switch.
func (e *Engine) Current() *Task { return e.current }

// InitTask synthesizes the initial exception-return frame for t and
// marks it ready (spec.md §4.1 init_task).
func (e *Engine) InitTask(t *Task, entry EntryFunc, param uintptr) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if t == nil || entry == nil {
		return ErrInvalidParameter
	}
	if int(t.StaticPriority) >= e.cfg.MaxPriorities {
		return fmt.Errorf("%w: priority %d exceeds max_priorities %d", ErrInvalidParameter, t.StaticPriority, e.cfg.MaxPriorities)
	}
	layoutInitialFrame(t, entry, param, exitTrampolineMarker)
	t.State = StateReady
	return nil
}

// EnterISR marks the engine as running in handler mode, for
// SwitchFromISR's precondition. A real target sets this implicitly by
// virtue of being inside an exception handler; the hosted model makes
// it explicit so tests can exercise scenario 3 of spec.md §8.
func (e *Engine) EnterISR() { e.inHandler = true }

// ExitISR clears handler mode.
func (e *Engine) ExitISR() { e.inHandler = false }

// SwitchTo validates the target, then either performs the first-task
// bootstrap (if no task has ever run) or records the target and
// services PendSV immediately, since this hosted model has no
// asynchronous exception to defer to (spec.md §4.1).
func (e *Engine) SwitchTo(target *Task) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if err := ValidateTCB(target); err != nil {
		return err
	}

	if !e.bootstrapped {
		return e.bootstrap(target)
	}

	e.next = target
	e.hal.PendPendSV()
	return e.servicePendSV()
}

// SwitchFromISR asserts handler mode and pends PendSV so the switch
// occurs "on interrupt exit" (spec.md §4.1). target is the task that
// should run once the simulated tail-chain completes.
func (e *Engine) SwitchFromISR(target *Task) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if !e.inHandler {
		return ErrInvalidParameter
	}
	if err := ValidateTCB(target); err != nil {
		return err
	}
	e.next = target
	e.hal.PendPendSV()
	return e.servicePendSV()
}

// bootstrap performs the first-ever switch: set the PSP from the
// target, conceptually switch CONTROL to unprivileged PSP thread mode,
// and branch to entry via exception return — realized here as a direct
// call to the task's entry function, since that is the only way a
// hosted process can make "the first instruction executed is entry"
// (spec.md §8 Invariant 1) observable.
func (e *Engine) bootstrap(t *Task) error {
	if err := ValidateStack(t); err != nil {
		e.fatal(t, err)
		return err
	}

	e.current = t
	e.hal.ClearPendSV()
	e.bootstrapped = true
	t.State = StateRunning
	t.Stats.ContextSwitches++

	entry, param := t.entry, t.param
	if entry == nil {
		return ErrInvalidParameter
	}
	entry(param)
	e.onTaskReturn(t)
	return nil
}

// onTaskReturn models the exit trampoline: a task whose entry function
// returns is terminated, never re-scheduled.
func (e *Engine) onTaskReturn(t *Task) {
	t.State = StateTerminated
	if e.current == t {
		e.current = nil
	}
}

// servicePendSV implements the canonical eleven-step ordering of
// spec.md §4.1, under the critical-section discipline of spec.md §5,
// timed against the HAL's simulated cycle counter.
func (e *Engine) servicePendSV() error {
	mask := e.crit.Enter()
	defer e.crit.Exit(mask)

	start := e.hal.Cycles()

	outgoing := e.current
	incoming := e.next

	if outgoing != nil {
		if err := ValidateStack(outgoing); err != nil {
			e.hal.ClearPendSV()
			e.fatal(outgoing, err)
			return err
		}
		// Step 3: lazy FPU high-half push, only if the outgoing task
		// had an active context. Silicon with no FPU never sets LSPACT,
		// but a config with FPUPresent=false skips the check outright.
		if e.cfg.FPUPresent {
			pushFPUHighHalf(e.hal, outgoing)
		}
		// Steps 4-5: software frame + EXC_RETURN already live on
		// outgoing.Context in this model; stamp the switch counter.
		outgoing.Stats.ContextSwitches++
		if outgoing.State == StateRunning {
			outgoing.State = StateReady
		}
	}

	// Step 6: load incoming, update current, clear next.
	e.current = incoming
	e.next = nil

	if incoming != nil {
		if err := ValidateStack(incoming); err != nil {
			e.hal.ClearPendSV()
			e.fatal(incoming, err)
			return err
		}
		// Step 8: MPU reprogram for the incoming task's regions.
		if len(incoming.MPURegions) > 0 {
			if err := reprogramMPU(e.hal, incoming.MPURegions); err != nil {
				e.hal.ClearPendSV()
				return err
			}
		}
		// Steps 9-10: pop R4-R11 + EXC_RETURN, and S16-S31 if the
		// incoming frame is extended.
		if e.cfg.FPUPresent {
			popFPUHighHalf(incoming)
		}
		incoming.State = StateRunning
	}

	e.hal.ClearPendSV()

	elapsed := e.hal.Cycles() - start
	e.stats.Observe(elapsed)
	if elapsed > e.cfg.MaxCycles && e.trace != nil {
		e.trace.Tracef(TraceWarn, "dsrtos: context switch took %d cycles (budget %d)", elapsed, e.cfg.MaxCycles)
	}
	return nil
}

// fatal forwards stack corruption/overflow straight to the panic
// collaborator, per spec.md §7: these never go through rollback.
func (e *Engine) fatal(t *Task, cause error) {
	kind := FaultUsageFault
	if cause == ErrStackOverflow {
		kind = FaultMemManage
	}
	faultDispatch(kind, t.Context, t, t.SP, true, e.panic)
}
