package dwtime

import (
	"testing"

	"pgregory.net/rapid"
)

func TestDecode40(t *testing.T) {
	tests := []struct {
		buf  [5]byte
		want Ticks
	}{
		{[5]byte{0, 0, 0, 0, 0}, 0},
		{[5]byte{0x01, 0, 0, 0, 0}, 1},
		{[5]byte{0xa0, 0x0f, 0x16, 0x26, 0}, 638980000},
		{[5]byte{0xff, 0xff, 0xff, 0xff, 0xff}, 1<<40 - 1},
		{[5]byte{0, 0, 0, 0, 0x10}, 0x10_0000_0000},
	}
	for _, tt := range tests {
		if got := Decode40(tt.buf[:]); got != tt.want {
			t.Errorf("Decode40(% x) = %d, expected %d", tt.buf, got, tt.want)
		}
	}
}

func TestEncode40RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := Ticks(rapid.Uint64Range(0, 1<<40-1).Draw(t, "x"))
		var buf [EncodedLen]byte
		Encode40(x, buf[:])
		if got := Decode40(buf[:]); got != x {
			t.Fatalf("Decode40(Encode40(%#x)) = %#x", x, got)
		}
	})
}

func TestEncode40TruncatesHighBits(t *testing.T) {
	var buf [EncodedLen]byte
	Encode40(1<<40|0xabcd, buf[:])
	if got := Decode40(buf[:]); got != 0xabcd {
		t.Errorf("got %#x, expected %#x", got, 0xabcd)
	}
}

func TestSubWraps(t *testing.T) {
	// A timestamp taken just after the counter wrapped minus one taken
	// just before must yield the short positive interval.
	before := Ticks(Mask - 100)
	after := Ticks(50)
	if got := after.Sub(before); got != 151 {
		t.Errorf("after.Sub(before) = %d, expected 151", got)
	}
}

func TestDelayedTRXTime(t *testing.T) {
	ts := Ticks(0x10_0098_9680)
	if got := ts.DelayedTRXTime(); got != 0x10009896 {
		t.Errorf("got %#x, expected %#x", got, 0x10009896)
	}
}

func TestMicroseconds(t *testing.T) {
	if got := Microseconds(1000); got != 63898000 {
		t.Errorf("Microseconds(1000) = %d, expected 63898000", got)
	}
}
