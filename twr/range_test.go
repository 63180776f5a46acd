package twr

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dwtime"
)

func TestDistanceOneMeter(t *testing.T) {
	// Symmetric 10 ms reply delays and a one-way flight of 3.3356 ns
	// (one meter), which is 213 device time units.
	reply := dwtime.Microseconds(10_000)
	const flight = 213
	round := reply + 2*flight

	dist := DistanceMM(round, round, reply, reply)
	if dist < 997 || dist > 1003 {
		t.Errorf("dist_mm = %d, expected 1000 +- 3", dist)
	}
}

func TestDistanceZeroRange(t *testing.T) {
	v := dwtime.Microseconds(10_000)
	if dist := DistanceMM(v, v, v, v); dist != 0 {
		t.Errorf("dist_mm = %d, expected 0", dist)
	}
}

func TestDistanceAsymmetricReplies(t *testing.T) {
	// The double-sided exchange cancels unequal reply delays to first
	// order: a short tag reply and a long anchor reply must still
	// yield the same range.
	reply1 := dwtime.Microseconds(10_000)
	reply2 := dwtime.Microseconds(100_000)
	const flight = 213
	dist := DistanceMM(reply1+2*flight, reply2+2*flight, reply1, reply2)
	if dist < 990 || dist > 1010 {
		t.Errorf("dist_mm = %d, expected close to 1000", dist)
	}
}

func TestDistanceProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reply1 := dwtime.Ticks(rapid.Uint64Range(1, 1<<31).Draw(t, "reply1"))
		reply2 := dwtime.Ticks(rapid.Uint64Range(1, 1<<31).Draw(t, "reply2"))
		// Up to one million ticks of flight, roughly 4.7 km.
		flight := dwtime.Ticks(rapid.Uint64Range(0, 1_000_000).Draw(t, "flight"))
		round1 := reply1 + 2*flight
		round2 := reply2 + 2*flight

		dist := DistanceMM(round1, round2, reply1, reply2)
		if flight == 0 && dist != 0 {
			t.Fatalf("zero flight gave %d mm", dist)
		}
		// 1 tick is about 4.69 mm of one-way range; the estimate must
		// stay in the physical ballpark.
		if upper := uint32(flight)*5 + 10; dist > upper {
			t.Fatalf("dist_mm = %d above bound %d for flight %d", dist, upper, flight)
		}
	})
}
