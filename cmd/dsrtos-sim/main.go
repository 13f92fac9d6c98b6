// Command dsrtos-sim is a small demonstration harness: it wires a
// simulated HAL, two fixture scheduler plugins, and drives end-to-end
// scenario 4 of spec.md §8 (scheduler switch, preserve-order) to
// completion, printing the resulting switch-history record. It is an
// integration-test entry point, not a production deliverable.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dsrtos/dsrtos"
	"github.com/dsrtos/dsrtos/internal/fixture"
)

const (
	pluginPriority   dsrtos.PluginID = 1
	pluginRoundRobin dsrtos.PluginID = 2
)

// clock is a trivial monotonic microsecond counter the harness advances
// by hand between phases.
type clock struct{ micros uint64 }

func (c *clock) NowMicros() uint64 { return c.micros }
func (c *clock) advance(d uint64)  { c.micros += d }

// taskManager adapts a plain slice of tasks to dsrtos.TaskManager.
type taskManager struct {
	tasks []*dsrtos.Task
}

func (m *taskManager) ListTasks() []*dsrtos.Task { return m.tasks }
func (m *taskManager) TaskCount() int            { return len(m.tasks) }
func (m *taskManager) Current() *dsrtos.Task {
	if len(m.tasks) == 0 {
		return nil
	}
	return m.tasks[0]
}
func (m *taskManager) RequestPreemption(t *dsrtos.Task) error {
	if t.State == dsrtos.StateRunning {
		t.State = dsrtos.StateReady
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dsrtos-sim:", err)
		os.Exit(1)
	}
}

func run() error {
	trace := dsrtos.NewZerologTrace(os.Stdout)
	cfg := dsrtos.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	priorityPlugin := fixture.NewStaticPriority()
	roundRobin := fixture.NewRoundRobin()

	registry := dsrtos.NewRegistry()
	if err := registry.Register(dsrtos.SchedulerDescriptor{ID: pluginPriority, Name: "static-priority", Impl: priorityPlugin}); err != nil {
		return err
	}
	if err := registry.Register(dsrtos.SchedulerDescriptor{ID: pluginRoundRobin, Name: "round-robin", Impl: roundRobin}); err != nil {
		return err
	}

	clk := &clock{}
	var tasks []*dsrtos.Task
	for i, name := range []string{"T1", "T2", "T3", "T4"} {
		t := dsrtos.NewTask(dsrtos.TaskID(i+1), name, uint64(i), 1024, dsrtos.Priority(i*10))
		tasks = append(tasks, t)
		if err := priorityPlugin.AddTask(t); err != nil {
			return err
		}
	}

	hal := dsrtos.NewSimHAL()
	engine := dsrtos.NewEngine(hal, panicPrinter{}, trace, cfg, dsrtos.NewCriticalSection())
	if err := engine.Init(); err != nil {
		return err
	}
	for _, t := range tasks {
		if err := engine.InitTask(t, func(uintptr) {}, 0); err != nil {
			return err
		}
	}

	tm := &taskManager{tasks: tasks}
	priorityMap := dsrtos.NewPriorityMap()
	priorityMap.RegisterDefaultRemap(pluginPriority, pluginRoundRobin, dsrtos.KindPriority, dsrtos.KindRoundRobin)

	migrator := dsrtos.NewMigrator(cfg, priorityMap, trace, dsrtos.NewMigrationStats(cfg.MaxCriticalSectionUS), dsrtos.NewCriticalSection(), clk)
	history := dsrtos.NewHistory(cfg.HistoryDepth)
	controller := dsrtos.NewController(cfg, registry, migrator, history, dsrtos.NewCriticalSection(), tm, clk, trace, pluginPriority, dsrtos.KindPriority)

	clk.advance(200_000) // start from a nonzero time; the min-interval gate does not apply before the first switch

	err := controller.RequestSwitch(context.Background(), dsrtos.SwitchRequest{
		Source:            pluginPriority,
		Target:            pluginRoundRobin,
		TargetKind:        dsrtos.KindRoundRobin,
		Reason:            dsrtos.ReasonManual,
		Strategy:          dsrtos.PreserveOrder,
		RequestedAtMicros: clk.NowMicros(),
	})
	if err != nil {
		return fmt.Errorf("switch request failed: %w", err)
	}

	fmt.Printf("round-robin queue depth after switch: %d\n", roundRobin.Len())
	for _, rec := range history.Entries() {
		fmt.Printf("history: %s->%s reason=%s success=%v migrated=%d duration=%dus\n",
			pluginName(rec.From), pluginName(rec.To), rec.Reason, rec.Success, rec.TasksMigrated, rec.DurationMicros)
	}
	return nil
}

func pluginName(id dsrtos.PluginID) string {
	switch id {
	case pluginPriority:
		return "static-priority"
	case pluginRoundRobin:
		return "round-robin"
	default:
		return "unknown"
	}
}

// panicPrinter is the harness's PanicHandler: it prints the fault and
// exits, since a hosted simulation has nowhere else to go on a fault
// that would otherwise halt real silicon.
type panicPrinter struct{}

func (panicPrinter) Panic(code dsrtos.FaultCode, ctx *dsrtos.FaultContext) {
	fmt.Fprintln(os.Stderr, "dsrtos-sim: fault:", code)
	os.Exit(2)
}
