package dsrtos

// mpuFastPathRegions is the threshold below which the engine programs
// regions with a known unrolled sequence rather than a general loop
// (spec.md §4.1.1).
const mpuFastPathRegions = 2

// reprogramMPU writes the incoming task's MPU regions and closes the
// reprogramming with the DSB+ISB barrier pair (spec.md §4.1.1). Up to
// mpuFastPathRegions regions take the unrolled path; beyond that, it
// iterates up to 8 regions, matching the documented hardware limit.
func reprogramMPU(hal HAL, regions []MPURegion) error {
	if len(regions) == 0 {
		return nil
	}

	if len(regions) <= mpuFastPathRegions {
		// Unrolled: region 0, then region 1, exactly in that order.
		if err := hal.ProgramMPURegion(0, regions[0]); err != nil {
			return err
		}
		if len(regions) == 2 {
			if err := hal.ProgramMPURegion(1, regions[1]); err != nil {
				return err
			}
		}
		hal.MPUBarrier()
		return nil
	}

	max := len(regions)
	if max > 8 {
		max = 8
	}
	for i := 0; i < max; i++ {
		if err := hal.ProgramMPURegion(uint8(i), regions[i]); err != nil {
			return err
		}
	}
	hal.MPUBarrier()
	return nil
}
