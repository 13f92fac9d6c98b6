package dsrtos_test

import "github.com/dsrtos/dsrtos"

// fakeClock is a manually-advanced microsecond counter, shared by the
// controller and end-to-end scenario tests.
type fakeClock struct{ micros uint64 }

func (c *fakeClock) NowMicros() uint64 { return c.micros }
func (c *fakeClock) advance(d uint64)  { c.micros += d }

// fakeTaskManager adapts a plain slice to dsrtos.TaskManager.
type fakeTaskManager struct {
	tasks     []*dsrtos.Task
	preempted []dsrtos.TaskID
}

func (m *fakeTaskManager) ListTasks() []*dsrtos.Task { return m.tasks }
func (m *fakeTaskManager) TaskCount() int            { return len(m.tasks) }
func (m *fakeTaskManager) Current() *dsrtos.Task {
	for _, t := range m.tasks {
		if t.State == dsrtos.StateRunning {
			return t
		}
	}
	return nil
}
func (m *fakeTaskManager) RequestPreemption(t *dsrtos.Task) error {
	m.preempted = append(m.preempted, t.ID)
	if t.State == dsrtos.StateRunning {
		t.State = dsrtos.StateReady
	}
	return nil
}

// recordingPanicHandler is a PanicHandler that panics the goroutine, so a test
// exercising a genuine fault path observes it via recover rather than
// the handler silently returning (which the real contract forbids).
type recordingPanicHandler struct{}

func (recordingPanicHandler) Panic(code dsrtos.FaultCode, ctx *dsrtos.FaultContext) {
	panic("dsrtos_test: fault dispatched: " + code.String())
}
