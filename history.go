package dsrtos

import "github.com/google/uuid"

// SwitchHistoryRecord is one entry of the switch-history ring (spec.md
// §3).
type SwitchHistoryRecord struct {
	ID              uuid.UUID
	Timestamp       uint64
	From, To        PluginID
	Reason          SwitchReason
	DurationMicros  uint64
	TasksMigrated   int
	Success         bool
	ErrorCode       error
}

// History is the bounded ring of switch-history records spec.md §3
// describes ("the controller keeps a bounded ring of 16 such
// records"), plus the running totals spec.md §8's Invariant 4 checks.
type History struct {
	records  []SwitchHistoryRecord
	depth    int
	next     int
	filled   bool

	totalSwitches      uint64
	successfulSwitches uint64
	failedSwitches     uint64
	rollbackCount      uint64
}

// NewHistory returns a history ring of the given depth.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = 16
	}
	return &History{records: make([]SwitchHistoryRecord, depth), depth: depth}
}

// Record appends one outcome, overwriting the oldest entry once the
// ring is full, and updates the running totals.
func (h *History) Record(rec SwitchHistoryRecord) {
	h.records[h.next] = rec
	h.next = (h.next + 1) % h.depth
	if h.next == 0 {
		h.filled = true
	}

	h.totalSwitches++
	if rec.Success {
		h.successfulSwitches++
	} else {
		h.failedSwitches++
	}
}

// RecordRollback increments the rollback counter, independent of
// Record (a rolled-back switch is recorded once as a failure via
// Record, and once here as a rollback).
func (h *History) RecordRollback() {
	h.rollbackCount++
}

// Entries returns the recorded history in chronological order, oldest
// first.
func (h *History) Entries() []SwitchHistoryRecord {
	if !h.filled {
		out := make([]SwitchHistoryRecord, h.next)
		copy(out, h.records[:h.next])
		return out
	}
	out := make([]SwitchHistoryRecord, h.depth)
	copy(out, h.records[h.next:])
	copy(out[h.depth-h.next:], h.records[:h.next])
	return out
}

// newHistoryID mints a fresh record identifier.
func newHistoryID() uuid.UUID { return uuid.New() }

func (h *History) TotalSwitches() uint64      { return h.totalSwitches }
func (h *History) SuccessfulSwitches() uint64 { return h.successfulSwitches }
func (h *History) FailedSwitches() uint64     { return h.failedSwitches }
func (h *History) RollbackCount() uint64      { return h.rollbackCount }
