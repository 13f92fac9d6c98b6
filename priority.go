package dsrtos

// remapKey identifies a (source plugin, target plugin) pair for
// priority remapping.
type remapKey struct {
	from PluginID
	to   PluginID
}

// PriorityMapFunc maps a source-plugin priority to a target-plugin
// priority.
type PriorityMapFunc func(Priority) Priority

// PriorityMap implements the remapping table of spec.md §4.4.1: a
// lookup keyed by (from, to), falling back to identity. Entries are
// installed at runtime by PluginKind, so the defaults below only take
// effect once the caller that builds the map says which registered
// PluginID plays which documented role (round-robin, priority, EDF) via
// RegisterDefaultRemap; the Controller does not call it.
type PriorityMap struct {
	entries map[remapKey]PriorityMapFunc
}

// NewPriorityMap returns an empty map; installers must add entries, or
// every remap is the identity function (spec.md §4.4.1's "default"
// row).
func NewPriorityMap() *PriorityMap {
	return &PriorityMap{entries: make(map[remapKey]PriorityMapFunc)}
}

// Set installs a custom remap entry, overriding any default previously
// registered for the same (from, to) pair.
func (m *PriorityMap) Set(from, to PluginID, fn PriorityMapFunc) {
	m.entries[remapKey{from, to}] = fn
}

// Remap applies the installed entry for (from, to), or identity if
// none is installed.
func (m *PriorityMap) Remap(from, to PluginID, p Priority) Priority {
	if fn, ok := m.entries[remapKey{from, to}]; ok {
		return fn(p)
	}
	return p
}

// PluginKind tags a registered plugin's documented role so the default
// remap table (round-robin/priority/EDF) can be installed without the
// caller hand-writing the three rows of spec.md §4.4.1 themselves.
type PluginKind int

const (
	KindOther PluginKind = iota
	KindRoundRobin
	KindPriority
	KindEDF
)

// normalBandPriority is the "normal band" priority round-robin tasks
// receive when migrated into a priority-based plugin.
const normalBandPriority Priority = 128

// unusedPriority is the priority value written for tasks migrated into
// a round-robin plugin, where priority is meaningless.
const unusedPriority Priority = 0

// edfToPriorityClamp is the ceiling applied to an EDF task's band
// priority when it migrates into a plain priority plugin.
const edfToPriorityClamp Priority = 64

// RegisterDefaultRemap installs the three non-identity rows of
// spec.md §4.4.1's default table for the given (from, to) pair, based
// on their PluginKind. Pairs with no matching row keep the identity
// fallback Remap already provides.
func (m *PriorityMap) RegisterDefaultRemap(fromID, toID PluginID, fromKind, toKind PluginKind) {
	switch {
	case fromKind == KindRoundRobin && toKind == KindPriority:
		m.Set(fromID, toID, func(Priority) Priority { return normalBandPriority })
	case fromKind == KindPriority && toKind == KindRoundRobin:
		m.Set(fromID, toID, func(Priority) Priority { return unusedPriority })
	case fromKind == KindEDF && toKind == KindPriority:
		m.Set(fromID, toID, func(p Priority) Priority {
			if p < 64 {
				return p
			}
			return edfToPriorityClamp
		})
	}
}

// Deadline band priorities for the deadline-based migration strategy
// (spec.md §4.4): {0, 32, 128, 192} for remaining time
// {<10, <100, <1000, else} tick units, in that order. Band 0 is
// reserved for tasks whose deadline has already passed; a passed
// deadline saturates RemainingTicks to zero, which falls in the <10
// range and so naturally takes band 0 — there is no separate "passed"
// case to special-case here.
const (
	bandUrgent   Priority = 0
	bandCritical Priority = 32
	bandNear     Priority = 128
	bandFar      Priority = 192
)

// deadlineBands implements the ordered band table. It is a table, not
// an if/else chain, so a custom table can be substituted in tests
// without touching the strategy code that calls it.
var deadlineBands = []struct {
	ceilingTicks uint64
	priority     Priority
}{
	{10, bandUrgent},
	{100, bandCritical},
	{1000, bandNear},
}

func deadlineBandPriority(remainingTicks uint64) Priority {
	for _, b := range deadlineBands {
		if remainingTicks < b.ceilingTicks {
			return b.priority
		}
	}
	return bandFar
}
