package cir

import (
	"testing"

	"pgregory.net/rapid"
)

func TestDecode24(t *testing.T) {
	tests := []struct {
		buf  [3]byte
		want int32
	}{
		{[3]byte{0, 0, 0}, 0},
		{[3]byte{0x01, 0, 0}, 1},
		{[3]byte{0xff, 0xff, 0x7f}, 1<<23 - 1},
		{[3]byte{0x00, 0x00, 0x80}, -(1 << 23)},
		{[3]byte{0xff, 0xff, 0xff}, -1},
		{[3]byte{0x2c, 0x01, 0x00}, 300},
		{[3]byte{0xd4, 0xfe, 0xff}, -300},
	}
	for _, tt := range tests {
		if got := Decode24(tt.buf[:]); got != tt.want {
			t.Errorf("Decode24(% x) = %d, expected %d", tt.buf, got, tt.want)
		}
	}
}

func TestDecode24SignExtension(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buf := [3]byte{
			rapid.Byte().Draw(t, "b0"),
			rapid.Byte().Draw(t, "b1"),
			rapid.Byte().Draw(t, "b2"),
		}
		v := Decode24(buf[:])
		low := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
		if uint32(v)&0xffffff != low {
			t.Fatalf("low 24 bits changed: in %06x, out %08x", low, uint32(v))
		}
		wantHigh := uint32(0)
		if buf[2]&0x80 != 0 {
			wantHigh = 0xff
		}
		if uint32(v)>>24 != wantHigh {
			t.Fatalf("high byte %02x, expected %02x for input % x", uint32(v)>>24, wantHigh, buf)
		}
	})
}

func encodeSample(dst []byte, s Sample) {
	dst[0] = byte(s.I)
	dst[1] = byte(s.I >> 8)
	dst[2] = byte(s.I >> 16)
	dst[3] = byte(s.Q)
	dst[4] = byte(s.Q >> 8)
	dst[5] = byte(s.Q >> 16)
}

func TestDecodeSamplesRoundTrip(t *testing.T) {
	// A full Ipatov read: 1016 samples plus the leading dummy byte.
	buf := make([]byte, IPSamples*SampleSize+1)
	buf[0] = 0xa5 // dummy, must be skipped
	want := make([]Sample, IPSamples)
	for i := range want {
		// A waveform crossing zero so negative values are covered.
		want[i] = Sample{
			I: int32(i*1000) - 500000,
			Q: -int32(i*500) + 250000,
		}
		encodeSample(buf[1+i*SampleSize:], want[i])
	}
	if len(buf) != 6097 {
		t.Fatalf("buffer length %d, expected 6097", len(buf))
	}
	got := DecodeSamples(buf, IPSamples)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %+v, expected %+v", i, got[i], want[i])
		}
	}
}

func TestAccumLayout(t *testing.T) {
	if AccumBytes != 12288 {
		t.Errorf("AccumBytes = %d, expected 12288", AccumBytes)
	}
	if STS2Index+STS2Samples != AccumWords {
		t.Errorf("STS2 segment exceeds the accumulator: %d", STS2Index+STS2Samples)
	}
}
