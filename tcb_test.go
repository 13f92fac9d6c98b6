package dsrtos

import "testing"

func newTestTask(id TaskID, stackSize uint32) *Task {
	return NewTask(id, "t", uint64(id), stackSize, Priority(id))
}

func TestValidateTCBRejectsCorruptMagic(t *testing.T) {
	tk := newTestTask(1, 1024)
	if err := ValidateTCB(tk); err != nil {
		t.Fatalf("fresh task should validate: %v", err)
	}
	tk.magic = 0
	if err := ValidateTCB(tk); err != ErrStackCorrupted {
		t.Fatalf("got %v, want ErrStackCorrupted", err)
	}
}

func TestValidateTCBNil(t *testing.T) {
	if err := ValidateTCB(nil); err != ErrInvalidParameter {
		t.Fatalf("got %v, want ErrInvalidParameter", err)
	}
}

func TestLayoutInitialFrame(t *testing.T) {
	tk := newTestTask(1, 1024)
	entry := func(uintptr) {}
	layoutInitialFrame(tk, entry, 0xCAFEBABE, exitTrampolineMarker)

	if err := ValidateStack(tk); err != nil {
		t.Fatalf("laid-out frame should validate: %v", err)
	}
	if tk.Context.R0 != 0xCAFEBABE {
		t.Fatalf("R0 = %#x, want 0xCAFEBABE", tk.Context.R0)
	}
	if tk.Context.LR != exitTrampolineMarker {
		t.Fatalf("LR = %#x, want exit trampoline marker", tk.Context.LR)
	}
	if tk.SP >= tk.StackSize {
		t.Fatalf("SP %d out of bounds [0,%d)", tk.SP, tk.StackSize)
	}
	if tk.SP%8 != 0 {
		t.Fatalf("SP %d not 8-byte aligned", tk.SP)
	}
	if tk.Canary != canarySentinel {
		t.Fatalf("canary = %#x, want %#x", tk.Canary, canarySentinel)
	}
}

func TestValidateStackDetectsCanaryCorruption(t *testing.T) {
	tk := newTestTask(1, 1024)
	layoutInitialFrame(tk, func(uintptr) {}, 0, exitTrampolineMarker)

	tk.Canary = 0
	if err := ValidateStack(tk); err != ErrStackCorrupted {
		t.Fatalf("got %v, want ErrStackCorrupted", err)
	}
}

func TestValidateStackDetectsGuardCorruption(t *testing.T) {
	tk := newTestTask(1, 1024)
	layoutInitialFrame(tk, func(uintptr) {}, 0, exitTrampolineMarker)

	tk.Stack[0] ^= 0xFF
	if err := ValidateStack(tk); err != ErrStackCorrupted {
		t.Fatalf("got %v, want ErrStackCorrupted", err)
	}
}

func TestValidateStackDetectsOverflow(t *testing.T) {
	tk := newTestTask(1, 1024)
	layoutInitialFrame(tk, func(uintptr) {}, 0, exitTrampolineMarker)

	tk.SP = tk.StackSize // out of bounds
	if err := ValidateStack(tk); err != ErrStackOverflow {
		t.Fatalf("got %v, want ErrStackOverflow", err)
	}
}

func TestValidateStackDetectsMisalignedSP(t *testing.T) {
	tk := newTestTask(1, 1024)
	layoutInitialFrame(tk, func(uintptr) {}, 0, exitTrampolineMarker)

	tk.SP += 1
	if err := ValidateStack(tk); err != ErrStackCorrupted {
		t.Fatalf("got %v, want ErrStackCorrupted", err)
	}
}

func TestDeadlineRemainingTicksSaturatesAtZero(t *testing.T) {
	d := Deadline{AbsoluteMicros: 100, Created: 0}
	if got := d.RemainingTicks(50); got != 50 {
		t.Fatalf("got %d, want 50", got)
	}
	if got := d.RemainingTicks(100); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := d.RemainingTicks(200); got != 0 {
		t.Fatalf("got %d, want 0 (saturated)", got)
	}
}

func TestDeadlineBandPriority(t *testing.T) {
	cases := []struct {
		remaining uint64
		want      Priority
	}{
		{0, bandUrgent},
		{9, bandUrgent},
		{10, bandCritical},
		{99, bandCritical},
		{100, bandNear},
		{999, bandNear},
		{1000, bandFar},
		{100000, bandFar},
	}
	for _, c := range cases {
		if got := deadlineBandPriority(c.remaining); got != c.want {
			t.Errorf("deadlineBandPriority(%d) = %d, want %d", c.remaining, got, c.want)
		}
	}
}
