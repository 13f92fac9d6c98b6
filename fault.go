package dsrtos

import "fmt"

// FaultKind identifies which of the four Cortex-M fault exceptions
// fired (spec.md §4.7). Go has no literal vector table to dispatch
// through, so the four handlers spec.md names become one dispatch
// function keyed by this enum rather than four separate call sites.
type FaultKind int

const (
	FaultHard FaultKind = iota
	FaultMemManage
	FaultBusFault
	FaultUsageFault
)

func (k FaultKind) String() string {
	switch k {
	case FaultHard:
		return "HardFault"
	case FaultMemManage:
		return "MemManage"
	case FaultBusFault:
		return "BusFault"
	case FaultUsageFault:
		return "UsageFault"
	default:
		return "UnknownFault"
	}
}

// FaultCode encodes which handler fired, whether MSP or PSP was in use,
// and the offending address if decodable (spec.md §4.7).
type FaultCode struct {
	Kind      FaultKind
	UsedPSP   bool
	Address   uint32
	AddrValid bool
}

func (c FaultCode) String() string {
	addr := "unknown"
	if c.AddrValid {
		addr = fmt.Sprintf("0x%08X", c.Address)
	}
	stack := "MSP"
	if c.UsedPSP {
		stack = "PSP"
	}
	return fmt.Sprintf("%s(stack=%s, addr=%s)", c.Kind, stack, addr)
}

// FaultContext captures the stacked exception frame at fault time, for
// the panic collaborator to inspect.
type FaultContext struct {
	Frame RegisterFrame
	Task  *Task // nil if the fault occurred outside any task context
}

// PanicHandler is the external panic collaborator of spec.md §6: it
// never returns.
type PanicHandler interface {
	Panic(code FaultCode, ctx *FaultContext)
}

// faultDispatch captures the current frame, decides MSP-vs-PSP from
// excReturn, and forwards to the panic collaborator. If the
// collaborator itself returns (a contract violation — PanicHandler.Panic
// documents that it must not), this is a backstop, not the primary
// mechanism.
func faultDispatch(kind FaultKind, frame RegisterFrame, task *Task, addr uint32, addrValid bool, handler PanicHandler) {
	code := FaultCode{
		Kind:      kind,
		UsedPSP:   excReturnUsesPSP(frame.ExcReturn),
		Address:   addr,
		AddrValid: addrValid,
	}
	handler.Panic(code, &FaultContext{Frame: frame, Task: task})
	panic(fmt.Sprintf("dsrtos: panic handler returned after %s", code))
}

// excReturnUsesPSP reports whether EXC_RETURN bit 2 (SPSEL) selects
// PSP as the stack in use at the time of the fault.
func excReturnUsesPSP(excReturn uint32) bool {
	return excReturn&(1<<2) != 0
}
