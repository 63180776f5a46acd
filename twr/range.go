package twr

import "github.com/ETH-PBL/UWB-DualAntenna-AoA/dwtime"

// DistanceMM computes the one-way range estimate of an asymmetric
// double-sided exchange from the four round and reply intervals:
//
//	tprop = (Tround1*Tround2 - Treply1*Treply2) /
//	        (Tround1 + Tround2 + Treply1 + Treply2)
//
// The device time unit is roughly 15.65 ps, so 1 ns is 63.898 ticks.
// The conversion to nanoseconds divides by 64 with a shift instead;
// peer nodes compute the same approximation, so it must not be
// "fixed" to the exact constant. The result truncates toward zero.
func DistanceMM(tround1, tround2, treply1, treply2 dwtime.Ticks) uint32 {
	num := uint64(tround1)*uint64(tround2) - uint64(treply1)*uint64(treply2)
	den := uint64(tround1) + uint64(tround2) + uint64(treply1) + uint64(treply2)
	if den == 0 {
		return 0
	}
	tpropNS := float64(num) / float64(den<<6)
	return uint32(tpropNS * 299.792458) // c in mm/ns
}
