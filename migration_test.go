package dsrtos_test

import (
	"context"
	"testing"

	"github.com/dsrtos/dsrtos"
	"github.com/dsrtos/dsrtos/internal/fixture"
	"github.com/stretchr/testify/require"
)

func newTestMigrator(cfg dsrtos.Config) *dsrtos.Migrator {
	pm := dsrtos.NewPriorityMap()
	return dsrtos.NewMigrator(cfg, pm, dsrtos.NopTrace{}, dsrtos.NewMigrationStats(cfg.MaxCriticalSectionUS), dsrtos.NewCriticalSection(), &fakeClock{})
}

func descriptorOf(id dsrtos.PluginID, name string, impl dsrtos.SchedulerPlugin) dsrtos.SchedulerDescriptor {
	return dsrtos.SchedulerDescriptor{ID: id, Name: name, Impl: impl}
}

// steppingClock advances by a fixed amount on every read, modeling a
// task whose per-task migration work takes measurably nonzero time.
type steppingClock struct {
	step, now uint64
}

func (c *steppingClock) NowMicros() uint64 {
	c.now += c.step
	return c.now
}

func TestMigrateEmptyTaskListIsNoop(t *testing.T) {
	cfg := dsrtos.DefaultConfig()
	m := newTestMigrator(cfg)

	src := fixture.NewStaticPriority()
	dst := fixture.NewRoundRobin()

	result, err := m.Migrate(context.Background(), dsrtos.MigrationRequest{
		Source: descriptorOf(1, "src", src),
		Target: descriptorOf(2, "dst", dst),
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Total)
	require.Empty(t, result.Migrated)
	require.Empty(t, result.Failed)
}

func TestMigratePreserveOrder(t *testing.T) {
	cfg := dsrtos.DefaultConfig()
	m := newTestMigrator(cfg)

	src := fixture.NewStaticPriority()
	dst := fixture.NewRoundRobin()

	var tasks []*dsrtos.Task
	for i := 1; i <= 4; i++ {
		tk := dsrtos.NewTask(dsrtos.TaskID(i), "t", uint64(i), 1024, dsrtos.Priority(i*10))
		tk.State = dsrtos.StateReady
		tasks = append(tasks, tk)
		require.NoError(t, src.AddTask(tk))
	}

	result, err := m.Migrate(context.Background(), dsrtos.MigrationRequest{
		Source:     descriptorOf(1, "src", src),
		Target:     descriptorOf(2, "dst", dst),
		SourceKind: dsrtos.KindPriority,
		TargetKind: dsrtos.KindRoundRobin,
		Tasks:      tasks,
		Strategy:   dsrtos.PreserveOrder,
	})
	require.NoError(t, err)
	require.Equal(t, 4, result.Total)
	require.Len(t, result.Migrated, 4)

	for i := 1; i <= 4; i++ {
		next, err := dst.SelectNext()
		require.NoError(t, err)
		require.Equal(t, dsrtos.TaskID(i), next.ID)
		require.NoError(t, dst.RemoveTask(next.ID))
	}
}

func TestMigrateRespectsBatchCap(t *testing.T) {
	cfg := dsrtos.DefaultConfig()
	cfg.MigrationBatchCap = 1
	m := newTestMigrator(cfg)

	src := fixture.NewStaticPriority()
	dst := fixture.NewRoundRobin()

	var tasks []*dsrtos.Task
	var progressCalls []int
	for i := 1; i <= 3; i++ {
		tk := dsrtos.NewTask(dsrtos.TaskID(i), "t", uint64(i), 1024, dsrtos.Priority(i))
		tk.State = dsrtos.StateReady
		tasks = append(tasks, tk)
		require.NoError(t, src.AddTask(tk))
	}

	result, err := m.Migrate(context.Background(), dsrtos.MigrationRequest{
		Source:     descriptorOf(1, "src", src),
		Target:     descriptorOf(2, "dst", dst),
		TargetKind: dsrtos.KindRoundRobin,
		Tasks:      tasks,
		Strategy:   dsrtos.PreserveOrder,
		Progress: func(completed, total int) {
			progressCalls = append(progressCalls, completed)
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Total)
	require.Equal(t, []int{1, 2, 3}, progressCalls)
}

func TestMigrateSkipsTerminatedTasks(t *testing.T) {
	cfg := dsrtos.DefaultConfig()
	m := newTestMigrator(cfg)

	src := fixture.NewStaticPriority()
	dst := fixture.NewRoundRobin()

	live := dsrtos.NewTask(1, "live", 0, 1024, 1)
	live.State = dsrtos.StateReady
	dead := dsrtos.NewTask(2, "dead", 1, 1024, 2)
	dead.State = dsrtos.StateTerminated
	require.NoError(t, src.AddTask(live))
	require.NoError(t, src.AddTask(dead))

	result, err := m.Migrate(context.Background(), dsrtos.MigrationRequest{
		Source:     descriptorOf(1, "src", src),
		Target:     descriptorOf(2, "dst", dst),
		TargetKind: dsrtos.KindRoundRobin,
		Tasks:      []*dsrtos.Task{live, dead},
		Strategy:   dsrtos.PreserveOrder,
	})
	require.Error(t, err)
	require.Contains(t, result.Migrated, dsrtos.TaskID(1))
	require.Contains(t, result.Failed, dsrtos.TaskID(2))

	var partial *dsrtos.PartialSuccess
	require.ErrorAs(t, err, &partial)
	require.Equal(t, 1, partial.Completed)
	require.Equal(t, 2, partial.Total)
}

func TestMigratePreemptsRunningTaskOnce(t *testing.T) {
	cfg := dsrtos.DefaultConfig()
	m := newTestMigrator(cfg)

	src := fixture.NewStaticPriority()
	dst := fixture.NewRoundRobin()

	running := dsrtos.NewTask(1, "running", 0, 1024, 1)
	running.State = dsrtos.StateRunning
	require.NoError(t, src.AddTask(running))

	preempted := false
	result, err := m.Migrate(context.Background(), dsrtos.MigrationRequest{
		Source:     descriptorOf(1, "src", src),
		Target:     descriptorOf(2, "dst", dst),
		TargetKind: dsrtos.KindRoundRobin,
		Tasks:      []*dsrtos.Task{running},
		Strategy:   dsrtos.PreserveOrder,
		Preempt: func(tk *dsrtos.Task) error {
			preempted = true
			tk.State = dsrtos.StateReady
			return nil
		},
	})
	require.NoError(t, err)
	require.True(t, preempted)
	require.Contains(t, result.Migrated, dsrtos.TaskID(1))
}

func TestMigratePerTaskTimeoutFailsFast(t *testing.T) {
	cfg := dsrtos.DefaultConfig()
	cfg.MigrationTimeoutUS = 50
	pm := dsrtos.NewPriorityMap()
	clk := &steppingClock{step: 100}
	m := dsrtos.NewMigrator(cfg, pm, dsrtos.NopTrace{}, dsrtos.NewMigrationStats(cfg.MaxCriticalSectionUS), dsrtos.NewCriticalSection(), clk)

	src := fixture.NewStaticPriority()
	dst := fixture.NewRoundRobin()

	var tasks []*dsrtos.Task
	for i := 1; i <= 2; i++ {
		tk := dsrtos.NewTask(dsrtos.TaskID(i), "t", uint64(i), 1024, dsrtos.Priority(i))
		tk.State = dsrtos.StateReady
		tasks = append(tasks, tk)
		require.NoError(t, src.AddTask(tk))
	}

	result, err := m.Migrate(context.Background(), dsrtos.MigrationRequest{
		Source:     descriptorOf(1, "src", src),
		Target:     descriptorOf(2, "dst", dst),
		TargetKind: dsrtos.KindRoundRobin,
		Tasks:      tasks,
		Strategy:   dsrtos.PreserveOrder,
	})
	require.ErrorIs(t, err, dsrtos.ErrTimeout)
	require.Contains(t, result.Migrated, dsrtos.TaskID(1))
	require.NotContains(t, result.Migrated, dsrtos.TaskID(2), "migration must stop at the first task that overruns the per-task budget")
}

func TestMigrateAbortStopsBetweenBatches(t *testing.T) {
	cfg := dsrtos.DefaultConfig()
	cfg.MigrationBatchCap = 1
	m := newTestMigrator(cfg)

	src := fixture.NewStaticPriority()
	dst := fixture.NewRoundRobin()

	var tasks []*dsrtos.Task
	for i := 1; i <= 3; i++ {
		tk := dsrtos.NewTask(dsrtos.TaskID(i), "t", uint64(i), 1024, dsrtos.Priority(i))
		tk.State = dsrtos.StateReady
		tasks = append(tasks, tk)
		require.NoError(t, src.AddTask(tk))
	}

	calls := 0
	result, err := m.Migrate(context.Background(), dsrtos.MigrationRequest{
		Source:     descriptorOf(1, "src", src),
		Target:     descriptorOf(2, "dst", dst),
		TargetKind: dsrtos.KindRoundRobin,
		Tasks:      tasks,
		Strategy:   dsrtos.PreserveOrder,
		Abort: func() bool {
			calls++
			return calls == 1
		},
	})
	require.ErrorIs(t, err, dsrtos.ErrAborted)
	require.Len(t, result.Migrated, 1, "only the first batch, which ran before the abort checkpoint, should have moved")
}

func TestMigrateDeadlineBasedRemapsPriority(t *testing.T) {
	cfg := dsrtos.DefaultConfig()
	m := newTestMigrator(cfg)

	src := fixture.NewStaticPriority()
	dst := fixture.NewStaticPriority()

	urgent := dsrtos.NewTask(1, "urgent", 0, 1024, 50)
	urgent.State = dsrtos.StateReady
	urgent.Deadline = &dsrtos.Deadline{AbsoluteMicros: 5}
	far := dsrtos.NewTask(2, "far", 1, 1024, 50)
	far.State = dsrtos.StateReady
	far.Deadline = &dsrtos.Deadline{AbsoluteMicros: 5000}

	require.NoError(t, src.AddTask(urgent))
	require.NoError(t, src.AddTask(far))

	result, err := m.Migrate(context.Background(), dsrtos.MigrationRequest{
		Source:     descriptorOf(1, "src", src),
		Target:     descriptorOf(2, "dst", dst),
		TargetKind: dsrtos.KindPriority,
		Tasks:      []*dsrtos.Task{urgent, far},
		Strategy:   dsrtos.DeadlineBased,
		NowMicros:  0,
	})
	require.NoError(t, err)
	require.Len(t, result.Migrated, 2)
	// Remaining ticks 5 < 10 -> band 0 (urgent); remaining 5000 >= 1000
	// -> band 192 (far), per spec.md §4.4's deadline-band table.
	require.Equal(t, dsrtos.Priority(0), urgent.EffectivePriority)
	require.Equal(t, dsrtos.Priority(192), far.EffectivePriority)
}
