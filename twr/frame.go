// package twr implements asymmetric double-sided two-way ranging
// between a dual-antenna tag and a single-antenna anchor.
//
// One ranging round is a four-frame exchange. The tag initiates with a
// sync frame and also computes the range, inverting the usual
// ISO/IEC 24730-62 direction so the result lands on the node that has
// the angle-of-arrival estimate:
//
//	tag                anchor
//	 |------ sync ------>|   0x20
//	 |<----- poll -------|   0x21
//	 |----- response --->|   0x10
//	 |<----- final ------|   0x23  carries Tround1, Treply2
package twr

import (
	"errors"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dwtime"
)

// Role selects which side of the exchange a node drives.
type Role uint8

const (
	Tag Role = iota
	Anchor
)

func (r Role) String() string {
	switch r {
	case Tag:
		return "tag"
	case Anchor:
		return "anchor"
	}
	return "unknown"
}

// Function codes.
const (
	FnSync     = 0x20 // ranging initiation
	FnPoll     = 0x21 // ranging poll
	FnResponse = 0x10 // activity control
	FnFinal    = 0x23 // ranging final with embedded round times
)

// Frame layout. All frames are IEEE 802.15.4 data frames with short
// addressing and a fixed PAN id; the radio appends a 2-byte FCS so the
// length handed to it is the frame size plus FCSLen.
const (
	BaseFrameLen  = 10
	FinalFrameLen = BaseFrameLen + 2*dwtime.EncodedLen
	FCSLen        = 2

	offSeq = 2
	offFn  = 9
)

var (
	frameControl = [2]byte{0x41, 0x88}
	panID        = [2]byte{'X', 'X'}
	tagAddr      = [2]byte{'T', 'T'}
	anchorAddr   = [2]byte{'A', 'A'}
)

// Frame validation failures. All of them abort the round.
var (
	ErrFrameLength  = errors.New("twr: wrong frame length")
	ErrFrameControl = errors.New("twr: wrong frame control")
	ErrFunctionCode = errors.New("twr: wrong function code")
	ErrSequence     = errors.New("twr: wrong sequence number")
)

// MakeBase builds a sync, poll or response frame sent by the given role.
func MakeBase(sender Role, fn byte, seq uint8) [BaseFrameLen]byte {
	var f [BaseFrameLen]byte
	f[0], f[1] = frameControl[0], frameControl[1]
	f[offSeq] = seq
	f[3], f[4] = panID[0], panID[1]
	dst, src := tagAddr, anchorAddr
	if sender == Tag {
		dst, src = anchorAddr, tagAddr
	}
	f[5], f[6] = dst[0], dst[1]
	f[7], f[8] = src[0], src[1]
	f[offFn] = fn
	return f
}

// MakeFinal builds the anchor's final frame embedding the poll-response
// round time and the response-final reply time.
func MakeFinal(seq uint8, tround1, treply2 dwtime.Ticks) [FinalFrameLen]byte {
	base := MakeBase(Anchor, FnFinal, seq)
	var f [FinalFrameLen]byte
	copy(f[:], base[:])
	putRoundTime(f[BaseFrameLen:], tround1)
	putRoundTime(f[BaseFrameLen+dwtime.EncodedLen:], treply2)
	return f
}

// putRoundTime stores a 40-bit round time into a final-frame field.
//
// The shift sequence is 0/8/16/32 across the first four bytes and the
// fifth byte stays zero, so bits 24..31 never reach the wire. Anchors
// in the field transmit exactly this layout and tags decode the fields
// with the plain 5-byte decoder, so both sides stay compatible only if
// the layout is kept as is.
// TODO: check a captured peer trace to confirm bits 24..31 are really
// absent on air before changing this to the full little-endian layout.
func putRoundTime(dst []byte, t dwtime.Ticks) {
	dst[0] = byte(t)
	dst[1] = byte(t >> 8)
	dst[2] = byte(t >> 16)
	dst[3] = byte(t >> 32)
	dst[4] = 0
}

// CheckBase validates the fixed header of a received frame and returns
// its sequence number. The caller checks the sequence number itself:
// the sync frame seeds the counter instead of matching it.
func CheckBase(buf []byte, wantFn byte) (seq uint8, err error) {
	if len(buf) < BaseFrameLen {
		return 0, ErrFrameLength
	}
	if buf[0] != frameControl[0] || buf[1] != frameControl[1] {
		return 0, ErrFrameControl
	}
	if buf[offFn] != wantFn {
		return 0, ErrFunctionCode
	}
	return buf[offSeq], nil
}

// FinalTimes decodes the two embedded round times from a final frame.
func FinalTimes(buf []byte) (tround1, treply2 dwtime.Ticks) {
	tround1 = dwtime.Decode40(buf[BaseFrameLen:])
	treply2 = dwtime.Decode40(buf[BaseFrameLen+dwtime.EncodedLen:])
	return tround1, treply2
}
