package dsrtos

// MPURegion describes one Cortex-M4F MPU region: a base address, a
// size/attribute word (RASR-shaped: size field + access permissions +
// cacheability), and whether the region is enabled. The engine programs
// at most 8 of these per task (spec.md §4.1.1).
type MPURegion struct {
	Base    uint32
	Attrs   uint32
	Enabled bool
}

// HAL is the typed register surface of spec.md §6: SCB (exception
// priorities, ICSR), NVIC, DWT (cycle counter), FPU (FPCCR bits), and
// MPU (RNR/RBAR/RASR), behind one interface so tests and the simulation
// harness can substitute a fake that records every access — the same
// role the teacher's CycleBus plays for timed memory access.
//
// A TinyGo build targeting real Cortex-M4F silicon provides a HAL
// implementation that issues the literal MMIO writes spec.md §6
// documents; nothing above this interface changes.
type HAL interface {
	// SetPendSVPriority programs SCB.SHPR3 so PendSV sits at the
	// numerically lowest exception priority.
	SetPendSVPriority(level uint8)
	// SetSVCPriority programs SCB.SHPR2 so SVC sits at the highest
	// exception priority.
	SetSVCPriority(level uint8)

	// PendPendSV sets SCB.ICSR.PENDSVSET (bit 28).
	PendPendSV()
	// PendSVPending reports whether PendSV is pending.
	PendSVPending() bool
	// ClearPendSV clears the pending bit once the handler has run.
	ClearPendSV()

	// EnableFPU programs CPACR CP10/CP11 for full access and FPCCR's
	// ASPEN/LSPEN bits for automatic + lazy state preservation.
	EnableFPU(auto, lazy bool)
	// FPULazyActive reads FPCCR.LSPACT: whether the outgoing task had
	// an active FPU context needing an explicit S16-S31 push.
	FPULazyActive() bool
	// SetFPULazyActive sets FPCCR.LSPACT, simulating the hardware
	// lazy-stacking state machine for tests.
	SetFPULazyActive(bool)

	// ProgramMPURegion writes RNR, RBAR, and RASR for one region.
	ProgramMPURegion(region uint8, cfg MPURegion) error
	// MPURegionCount returns MPU.TYPE's DREGION field (platform region
	// count), used to bound the >2-region slow path at 8.
	MPURegionCount() uint8
	// MPUBarrier issues the DSB+ISB pair that closes MPU
	// reprogramming.
	MPUBarrier()

	// EnableCycleCounter unlocks DWT (writes the LAR unlock magic),
	// enables CoreDebug.DEMCR.TRCENA, and sets DWT.CTRL.CYCCNTENA.
	EnableCycleCounter()
	// Cycles reads DWT.CYCCNT.
	Cycles() uint64
}

// dwtLARUnlockMagic is the documented Cortex-M DWT.LAR unlock value.
const dwtLARUnlockMagic = 0xC5ACCE55

// SimHAL is an in-process software model of the register surface: it
// behaves exactly like the documented hardware (the same bits mean the
// same things) but has no MMIO backing. It is the HAL used by the
// simulation harness and by every test in this module.
type SimHAL struct {
	pendSVPriority uint8
	svcPriority    uint8
	pendSVPending  bool

	fpuAuto, fpuLazy bool
	fpuLazyActive    bool

	mpuRegions     [8]MPURegion
	mpuRegionCount uint8

	cycleCounterEnabled bool
	larUnlocked         bool
	larUnlockValue      uint32
	cycles              uint64
}

// NewSimHAL returns a simulated HAL with an 8-region MPU, matching a
// typical Cortex-M4F MPU configuration.
func NewSimHAL() *SimHAL {
	return &SimHAL{mpuRegionCount: 8}
}

func (h *SimHAL) SetPendSVPriority(level uint8) { h.pendSVPriority = level }
func (h *SimHAL) SetSVCPriority(level uint8)    { h.svcPriority = level }

func (h *SimHAL) PendPendSV()        { h.pendSVPending = true }
func (h *SimHAL) PendSVPending() bool { return h.pendSVPending }
func (h *SimHAL) ClearPendSV()       { h.pendSVPending = false }

func (h *SimHAL) EnableFPU(auto, lazy bool) {
	h.fpuAuto, h.fpuLazy = auto, lazy
}
func (h *SimHAL) FPULazyActive() bool      { return h.fpuLazyActive }
func (h *SimHAL) SetFPULazyActive(v bool)  { h.fpuLazyActive = v }

func (h *SimHAL) ProgramMPURegion(region uint8, cfg MPURegion) error {
	if region >= h.mpuRegionCount {
		return ErrInvalidParameter
	}
	h.mpuRegions[region] = cfg
	return nil
}
func (h *SimHAL) MPURegionCount() uint8 { return h.mpuRegionCount }
func (h *SimHAL) MPUBarrier()           {}

func (h *SimHAL) EnableCycleCounter() {
	h.larUnlockValue = dwtLARUnlockMagic
	h.larUnlocked = true
	h.cycleCounterEnabled = true
}
func (h *SimHAL) Cycles() uint64 { return h.cycles }

// LARUnlockValue returns the value the simulated DWT.LAR unlock write
// recorded, for tests asserting EnableCycleCounter wrote the documented
// magic rather than an arbitrary nonzero value.
func (h *SimHAL) LARUnlockValue() uint32 { return h.larUnlockValue }

// Advance moves the simulated cycle counter forward; used by tests to
// model the passage of time between operations. The engine never calls
// it, so a switch serviced with no Advance in between measures zero
// cycles.
func (h *SimHAL) Advance(n uint64) {
	if h.cycleCounterEnabled {
		h.cycles += n
	}
}
