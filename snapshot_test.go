package dsrtos_test

import (
	"testing"

	"github.com/dsrtos/dsrtos"
	"github.com/dsrtos/dsrtos/internal/fixture"
	"github.com/stretchr/testify/require"
)

// echoPlugin is a SaveState/RestoreState-capable plugin used only to
// exercise SaveSchedulerState/RestoreSchedulerState's checksum path; its
// scheduling behavior is delegated to an embedded round-robin queue.
type echoPlugin struct {
	*fixture.RoundRobin
	saved []byte
}

func (p *echoPlugin) SaveState(buf []byte) (int, error) {
	n := copy(buf, p.saved)
	return n, nil
}

func (p *echoPlugin) RestoreState(buf []byte) error {
	p.saved = append([]byte(nil), buf...)
	return nil
}

func TestSaveRestoreSchedulerStateRoundTrips(t *testing.T) {
	p := &echoPlugin{RoundRobin: fixture.NewRoundRobin(), saved: []byte("scheduler-state-bytes")}
	desc := dsrtos.SchedulerDescriptor{ID: 1, Name: "echo", Impl: p}

	saved, err := dsrtos.SaveSchedulerState(desc, 64)
	require.NoError(t, err)
	require.Equal(t, "scheduler-state-bytes", string(saved.Buf))

	p.saved = nil
	require.NoError(t, dsrtos.RestoreSchedulerState(desc, saved))
	require.Equal(t, "scheduler-state-bytes", string(p.saved))
}

func TestRestoreSchedulerStateRejectsTamperedChecksum(t *testing.T) {
	p := &echoPlugin{RoundRobin: fixture.NewRoundRobin(), saved: []byte("abc")}
	desc := dsrtos.SchedulerDescriptor{ID: 1, Name: "echo", Impl: p}

	saved, err := dsrtos.SaveSchedulerState(desc, 64)
	require.NoError(t, err)

	saved.Checksum ^= 0x1
	err = dsrtos.RestoreSchedulerState(desc, saved)
	require.ErrorIs(t, err, dsrtos.ErrChecksum)
}

func TestSaveSchedulerStateFallsBackToDescriptorName(t *testing.T) {
	// A plugin with no SaveState hook falls back to its own name bytes.
	desc := dsrtos.SchedulerDescriptor{ID: 1, Name: "round-robin", Impl: fixture.NewRoundRobin()}
	saved, err := dsrtos.SaveSchedulerState(desc, 64)
	require.NoError(t, err)
	require.Equal(t, "round-robin", string(saved.Buf))
}

func TestSnapshotQueueLeavesLiveQueueUnchanged(t *testing.T) {
	p := fixture.NewRoundRobin()
	var tasks []*dsrtos.Task
	for i := 1; i <= 3; i++ {
		tk := dsrtos.NewTask(dsrtos.TaskID(i), "t", uint64(i), 1024, dsrtos.Priority(i))
		tk.State = dsrtos.StateReady
		tasks = append(tasks, tk)
		require.NoError(t, p.AddTask(tk))
	}
	byID := func(id dsrtos.TaskID) *dsrtos.Task {
		for _, tk := range tasks {
			if tk.ID == id {
				return tk
			}
		}
		return nil
	}

	snap, err := dsrtos.SnapshotQueue(p, byID, 1000)
	require.NoError(t, err)
	require.Equal(t, []dsrtos.TaskID{1, 2, 3}, snap.TaskRefs)
	require.Equal(t, 3, p.Len())

	for i := 1; i <= 3; i++ {
		next, err := p.SelectNext()
		require.NoError(t, err)
		require.Equal(t, dsrtos.TaskID(i), next.ID)
		require.NoError(t, p.RemoveTask(next.ID))
	}
}

func TestRestoreQueueSnapshotRejectsTamperedChecksum(t *testing.T) {
	p := fixture.NewRoundRobin()
	tk := dsrtos.NewTask(1, "t", 0, 1024, 1)
	tk.State = dsrtos.StateReady
	require.NoError(t, p.AddTask(tk))

	byID := func(id dsrtos.TaskID) *dsrtos.Task {
		if id == tk.ID {
			return tk
		}
		return nil
	}
	snap, err := dsrtos.SnapshotQueue(p, byID, 0)
	require.NoError(t, err)

	snap.Checksum ^= 0x1
	err = dsrtos.RestoreQueueSnapshot(p, snap, byID)
	require.ErrorIs(t, err, dsrtos.ErrChecksum)
}

func TestRestoreQueueSnapshotReappliesPriorityAndState(t *testing.T) {
	p := fixture.NewRoundRobin()
	tk := dsrtos.NewTask(1, "t", 0, 1024, 5)
	tk.State = dsrtos.StateReady
	require.NoError(t, p.AddTask(tk))

	byID := func(id dsrtos.TaskID) *dsrtos.Task { return tk }
	snap, err := dsrtos.SnapshotQueue(p, byID, 0)
	require.NoError(t, err)

	tk.EffectivePriority = 99
	tk.State = dsrtos.StateBlocked
	require.NoError(t, p.RemoveTask(tk.ID))

	require.NoError(t, dsrtos.RestoreQueueSnapshot(p, snap, byID))
	require.Equal(t, dsrtos.Priority(5), tk.EffectivePriority)
	require.Equal(t, dsrtos.StateReady, tk.State)
	require.Equal(t, 1, p.Len())
}
