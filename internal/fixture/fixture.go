// Package fixture provides minimal, slice-backed scheduler plugins used
// only by tests and the simulation harness. The production package
// places individual plugins' internal data structures out of scope, but
// the migration engine and switch controller cannot be exercised
// without at least one concrete plugin on each side of a switch.
package fixture

import (
	"sort"

	"github.com/dsrtos/dsrtos"
)

// RoundRobin is a FIFO queue: SelectNext always returns the oldest
// admitted task still present, and re-admitting rotates it to the back.
type RoundRobin struct {
	queue []*dsrtos.Task
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) AddTask(t *dsrtos.Task) error {
	r.queue = append(r.queue, t)
	return nil
}

func (r *RoundRobin) RemoveTask(id dsrtos.TaskID) error {
	for i, t := range r.queue {
		if t.ID == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return nil
		}
	}
	return dsrtos.ErrTaskNotFound
}

func (r *RoundRobin) SelectNext() (*dsrtos.Task, error) {
	if len(r.queue) == 0 {
		return nil, nil
	}
	return r.queue[0], nil
}

func (r *RoundRobin) ClearQueues() error {
	r.queue = nil
	return nil
}

func (r *RoundRobin) Len() int { return len(r.queue) }

// StaticPriority keeps tasks ordered by EffectivePriority (lower value
// first), re-sorting on every admission.
type StaticPriority struct {
	queue []*dsrtos.Task
}

func NewStaticPriority() *StaticPriority { return &StaticPriority{} }

func (p *StaticPriority) AddTask(t *dsrtos.Task) error {
	p.queue = append(p.queue, t)
	sort.SliceStable(p.queue, func(i, j int) bool {
		return p.queue[i].EffectivePriority < p.queue[j].EffectivePriority
	})
	return nil
}

func (p *StaticPriority) RemoveTask(id dsrtos.TaskID) error {
	for i, t := range p.queue {
		if t.ID == id {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return nil
		}
	}
	return dsrtos.ErrTaskNotFound
}

func (p *StaticPriority) SelectNext() (*dsrtos.Task, error) {
	if len(p.queue) == 0 {
		return nil, nil
	}
	return p.queue[0], nil
}

func (p *StaticPriority) ClearQueues() error {
	p.queue = nil
	return nil
}

func (p *StaticPriority) AdjustPriority(t *dsrtos.Task) error {
	sort.SliceStable(p.queue, func(i, j int) bool {
		return p.queue[i].EffectivePriority < p.queue[j].EffectivePriority
	})
	return nil
}

func (p *StaticPriority) Len() int { return len(p.queue) }

// EDF orders strictly by absolute deadline, earliest first. A task with
// no deadline sorts last and CanAccept refuses it, since an EDF plugin
// has no meaningful way to schedule a task lacking the one attribute it
// orders by.
type EDF struct {
	queue []*dsrtos.Task
	now   uint64
}

func NewEDF() *EDF { return &EDF{} }

// SetNow records a current time for the EDF fixture, independent of the
// kernel's own SystemClock collaborator. Ordering uses absolute
// deadlines only, so the recorded time does not change queue order.
func (e *EDF) SetNow(micros uint64) { e.now = micros }

func (e *EDF) CanAccept(t *dsrtos.Task) bool {
	return t.Deadline != nil
}

func (e *EDF) AddTask(t *dsrtos.Task) error {
	e.queue = append(e.queue, t)
	e.resort()
	return nil
}

func (e *EDF) resort() {
	sort.SliceStable(e.queue, func(i, j int) bool {
		return e.deadline(e.queue[i]) < e.deadline(e.queue[j])
	})
}

func (e *EDF) deadline(t *dsrtos.Task) uint64 {
	if t.Deadline == nil {
		return ^uint64(0)
	}
	return t.Deadline.AbsoluteMicros
}

func (e *EDF) RemoveTask(id dsrtos.TaskID) error {
	for i, t := range e.queue {
		if t.ID == id {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return nil
		}
	}
	return dsrtos.ErrTaskNotFound
}

func (e *EDF) SelectNext() (*dsrtos.Task, error) {
	if len(e.queue) == 0 {
		return nil, nil
	}
	return e.queue[0], nil
}

func (e *EDF) ClearQueues() error {
	e.queue = nil
	return nil
}

func (e *EDF) Len() int { return len(e.queue) }
