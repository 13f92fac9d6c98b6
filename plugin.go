package dsrtos

// PluginID stably identifies a scheduler plugin across a switch.
type PluginID uint16

// SchedulerDescriptor names a registered plugin: a stable ID, a human
// name, and the implementation backing its capability vector.
type SchedulerDescriptor struct {
	ID   PluginID
	Name string
	Impl SchedulerPlugin
}

// SchedulerPlugin is the required part of the capability vector of
// spec.md §4.3: every plugin must implement AddTask, RemoveTask and
// SelectNext. The remaining operations (CanAccept, SaveState,
// RestoreState, ClearQueues, AdjustPriority, Init) are optional; the
// core probes for each one through the single-method optional
// interfaces below — composition over a fat interface, the same shape the
// retrieved k8s scheduler-framework code uses for its own optional
// plugin hooks (PreFilterPlugin, ScorePlugin, ...).
type SchedulerPlugin interface {
	AddTask(t *Task) error
	RemoveTask(id TaskID) error
	SelectNext() (*Task, error)
}

// Optional capability interfaces. A plugin that doesn't implement one
// falls back to the default behavior spec.md §4.3/§4.4.2 describes.
type (
	canAccepter interface {
		CanAccept(t *Task) bool
	}
	stateSaver interface {
		SaveState(buf []byte) (n int, err error)
	}
	stateRestorer interface {
		RestoreState(buf []byte) error
	}
	queueClearer interface {
		ClearQueues() error
	}
	priorityAdjuster interface {
		AdjustPriority(t *Task) error
	}
	initializer interface {
		Init() error
	}
)

// canAccept calls the plugin's CanAccept if present; absent means
// "accept unconditionally", except that an EDF-identified plugin (by
// convention, a plugin registered under KindEDF) without a
// CanAccept hook cannot verify deadline-carrying tasks and so the
// migration engine's feasibility check (§4.4.2) applies its own
// deadline-presence rule regardless of this function's answer.
func canAccept(p SchedulerPlugin, t *Task) bool {
	if ca, ok := p.(canAccepter); ok {
		return ca.CanAccept(t)
	}
	return true
}

// saveState calls the plugin's SaveState if present, else copies the
// descriptor's own identity bytes verbatim (spec.md §4.5: "else copies
// the plugin's own descriptor bytes verbatim").
func saveState(desc SchedulerDescriptor, buf []byte) (int, error) {
	if ss, ok := desc.Impl.(stateSaver); ok {
		return ss.SaveState(buf)
	}
	id := []byte(desc.Name)
	if len(buf) < len(id) {
		return 0, ErrBufferTooSmall
	}
	n := copy(buf, id)
	return n, nil
}

// restoreState calls the plugin's RestoreState if present; a plugin
// with no RestoreState but a SaveState is a contract violation the
// caller must avoid (restoreState cannot invent a meaning for such a
// plugin's bytes), so it returns ErrInvalidScheduler.
func restoreState(desc SchedulerDescriptor, buf []byte) error {
	if sr, ok := desc.Impl.(stateRestorer); ok {
		return sr.RestoreState(buf)
	}
	if _, ok := desc.Impl.(stateSaver); ok {
		return ErrInvalidScheduler
	}
	return nil
}

func clearQueues(p SchedulerPlugin) error {
	if qc, ok := p.(queueClearer); ok {
		return qc.ClearQueues()
	}
	return nil
}

func adjustPriority(p SchedulerPlugin, t *Task) error {
	if pa, ok := p.(priorityAdjuster); ok {
		return pa.AdjustPriority(t)
	}
	return nil
}

func initPlugin(p SchedulerPlugin) error {
	if init, ok := p.(initializer); ok {
		return init.Init()
	}
	return nil
}

// removeTaskIdempotent calls RemoveTask and treats ErrTaskNotFound as a
// non-fatal, already-satisfied precondition, per spec.md §4.3:
// "removing an absent task returns a distinguished non-fatal code".
func removeTaskIdempotent(p SchedulerPlugin, id TaskID) error {
	err := p.RemoveTask(id)
	if err == ErrTaskNotFound {
		return nil
	}
	return err
}

// Registry holds the set of scheduler plugins known to the kernel.
// Descriptors are read-only after installation (spec.md §5); Register
// is only safe to call during setup, before any switch has run.
type Registry struct {
	byID map[PluginID]SchedulerDescriptor
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[PluginID]SchedulerDescriptor)}
}

// Register installs a plugin descriptor.
func (r *Registry) Register(desc SchedulerDescriptor) error {
	if desc.Impl == nil {
		return ErrInvalidParameter
	}
	r.byID[desc.ID] = desc
	return nil
}

// Get looks up a descriptor by ID.
func (r *Registry) Get(id PluginID) (SchedulerDescriptor, error) {
	desc, ok := r.byID[id]
	if !ok {
		return SchedulerDescriptor{}, ErrInvalidScheduler
	}
	return desc, nil
}
