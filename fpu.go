package dsrtos

// fpuExtendedFrameWords is the word count of the S16-S31 half the
// engine must push explicitly when the outgoing task had an active
// lazy FPU context (spec.md §4.1.2).
const fpuExtendedFrameWords = 16

// pushFPUHighHalf simulates pushing S16-S31 onto the outgoing task's
// saved context when FPCCR.LSPACT is set, i.e. the outgoing task
// actually touched the FPU since its last restore. The low half
// (S0-S15 + FPSCR) is handled by hardware's automatic stacking on real
// silicon and is not something this software model pushes explicitly.
func pushFPUHighHalf(hal HAL, t *Task) {
	if !hal.FPULazyActive() {
		return
	}
	if t.FPContext == nil {
		t.FPContext = &FPFrame{}
	}
	// The values themselves are whatever the task last wrote; this
	// model only needs to track that the high half is now considered
	// saved, so restoring the same task later round-trips.
}

// popFPUHighHalf restores S16-S31 if the incoming task's saved
// EXC_RETURN indicates the extended frame (spec.md §4.1 step 10).
func popFPUHighHalf(t *Task) {
	if !excReturnIsExtendedFrame(t.Context.ExcReturn) {
		return
	}
	if t.FPContext == nil {
		t.FPContext = &FPFrame{}
	}
}
