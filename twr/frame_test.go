package twr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dwtime"
)

func TestMakeBase(t *testing.T) {
	f := MakeBase(Tag, FnSync, 7)
	want := []byte{0x41, 0x88, 7, 'X', 'X', 'A', 'A', 'T', 'T', 0x20}
	if !bytes.Equal(f[:], want) {
		t.Errorf("tag sync frame % x, expected % x", f, want)
	}

	f = MakeBase(Anchor, FnPoll, 8)
	want = []byte{0x41, 0x88, 8, 'X', 'X', 'T', 'T', 'A', 'A', 0x21}
	if !bytes.Equal(f[:], want) {
		t.Errorf("anchor poll frame % x, expected % x", f, want)
	}
}

func TestMakeFinalLayout(t *testing.T) {
	// The round-time fields skip bits 24..31: byte 3 carries bits
	// 32..39 and byte 4 stays zero.
	f := MakeFinal(3, 0x12_3456_7890, 0x0000_0000_01)
	if f[offFn] != FnFinal {
		t.Fatalf("function code %#x", f[offFn])
	}
	wantT1 := []byte{0x90, 0x78, 0x56, 0x12, 0x00}
	if !bytes.Equal(f[BaseFrameLen:BaseFrameLen+5], wantT1) {
		t.Errorf("tround1 field % x, expected % x", f[BaseFrameLen:BaseFrameLen+5], wantT1)
	}
	wantT2 := []byte{0x01, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(f[BaseFrameLen+5:], wantT2) {
		t.Errorf("treply2 field % x, expected % x", f[BaseFrameLen+5:], wantT2)
	}
}

func TestFinalTimesRoundTrip(t *testing.T) {
	// Values below 2^24 survive the field layout unchanged.
	f := MakeFinal(0, 0xabcdef, 0x123456)
	t1, t2 := FinalTimes(f[:])
	assert.Equal(t, dwtime.Ticks(0xabcdef), t1)
	assert.Equal(t, dwtime.Ticks(0x123456), t2)
}

func TestFinalTimesDropsMiddleByte(t *testing.T) {
	// Bits 24..31 are not transmitted; the decoded value interleaves
	// bits 32..39 at position 24 instead.
	f := MakeFinal(0, 0x26160fa0, 0)
	t1, _ := FinalTimes(f[:])
	assert.Equal(t, dwtime.Ticks(0x160fa0), t1)
}

func TestCheckBase(t *testing.T) {
	f := MakeBase(Anchor, FnPoll, 42)

	seq, err := CheckBase(f[:], FnPoll)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 42 {
		t.Errorf("seq %d, expected 42", seq)
	}

	_, err = CheckBase(f[:], FnFinal)
	assert.ErrorIs(t, err, ErrFunctionCode)

	bad := f
	bad[0] = 0x61
	_, err = CheckBase(bad[:], FnPoll)
	assert.ErrorIs(t, err, ErrFrameControl)

	_, err = CheckBase(f[:5], FnPoll)
	assert.ErrorIs(t, err, ErrFrameLength)
}
