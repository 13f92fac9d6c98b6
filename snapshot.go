package dsrtos

import "github.com/google/uuid"

// SavedState is the result of saving a plugin's internal state: the
// bytes themselves and a checksum computed over them (spec.md §4.5).
type SavedState struct {
	Buf      []byte
	Used     int
	Checksum uint16
}

// SaveSchedulerState calls the plugin's own save hook if present, else
// copies the plugin's descriptor bytes verbatim, then folds a checksum
// over exactly the bytes written (spec.md §4.5).
func SaveSchedulerState(desc SchedulerDescriptor, bufSize int) (SavedState, error) {
	buf := make([]byte, bufSize)
	n, err := saveState(desc, buf)
	if err != nil {
		return SavedState{}, err
	}
	used := buf[:n]
	return SavedState{Buf: used, Used: n, Checksum: checksumState(used)}, nil
}

// RestoreSchedulerState verifies the checksum and refuses a mismatch
// with ErrChecksum before calling the plugin's restore hook (spec.md
// §4.5: "restore_scheduler_state verifies the checksum and refuses
// mismatches with a dedicated error").
func RestoreSchedulerState(desc SchedulerDescriptor, saved SavedState) error {
	if checksumState(saved.Buf) != saved.Checksum {
		return ErrChecksum
	}
	return restoreState(desc, saved.Buf)
}

// QueueSnapshot is an ordered sequence of task references plus their
// priorities and lifecycle states at snapshot time (spec.md §3).
type QueueSnapshot struct {
	ID         uuid.UUID
	TaskRefs   []TaskID
	Priorities []Priority
	States     []TaskState
	Timestamp  uint64
	Checksum   uint16
}

// SnapshotQueue walks the plugin's queue by draining it (SelectNext +
// RemoveTask until empty), records the task reference sequence plus
// each task's priority and state word, then re-admits every drained
// task in the same order. The checksum is computed over the reference
// array only (spec.md §4.5), independent of checksumState so the two
// can be tampered with independently in tests.
//
// Priority and state are read from the *Task values SelectNext returns,
// so the core only calls plugin operations and never inspects
// plugin-private queues (spec.md §4.3). tasksByID is not used here; it
// is accepted for symmetry with RestoreQueueSnapshot.
func SnapshotQueue(p SchedulerPlugin, tasksByID func(TaskID) *Task, nowMicros uint64) (QueueSnapshot, error) {
	var drained []*Task
	for {
		t, err := p.SelectNext()
		if err != nil || t == nil {
			break
		}
		if err := p.RemoveTask(t.ID); err != nil {
			// Put back what we've already pulled before surfacing the
			// error, so a failed snapshot doesn't silently drop tasks.
			for _, d := range drained {
				_ = p.AddTask(d)
			}
			return QueueSnapshot{}, err
		}
		drained = append(drained, t)
	}

	snap := QueueSnapshot{
		ID:        uuid.New(),
		Timestamp: nowMicros,
	}
	for _, t := range drained {
		snap.TaskRefs = append(snap.TaskRefs, t.ID)
		snap.Priorities = append(snap.Priorities, t.EffectivePriority)
		snap.States = append(snap.States, t.State)
	}
	snap.Checksum = checksumQueue(snap.TaskRefs)

	for _, t := range drained {
		if err := p.AddTask(t); err != nil {
			return QueueSnapshot{}, err
		}
	}
	_ = tasksByID // resolver kept for callers that need live *Task lookups during restore
	return snap, nil
}

// RestoreQueueSnapshot first calls the plugin's ClearQueues, then
// re-admits tasks in snapshot order with their recorded priority and
// state (spec.md §4.5). It refuses a tampered snapshot.
func RestoreQueueSnapshot(p SchedulerPlugin, snap QueueSnapshot, tasksByID func(TaskID) *Task) error {
	if checksumQueue(snap.TaskRefs) != snap.Checksum {
		return ErrChecksum
	}
	if err := clearQueues(p); err != nil {
		return err
	}
	for i, id := range snap.TaskRefs {
		t := tasksByID(id)
		if t == nil {
			return ErrTaskNotFound
		}
		t.EffectivePriority = snap.Priorities[i]
		t.State = snap.States[i]
		if err := p.AddTask(t); err != nil {
			return err
		}
	}
	return nil
}
