// package telemetry frames measurement records for the serial link.
//
// The stream is line-oriented ASCII with binary payloads in between:
// every record is announced by a header line
//
//	BLOB / <kind> / v<N> / <bytes>\n
//
// followed by exactly <bytes> raw bytes and one terminating newline.
// Human-readable debug lines are interleaved freely; the host parser
// keys on the "BLOB / " prefix and ignores everything else.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dw3000"
)

// Wire sizes of the fixed-layout records.
const (
	TimePOASize     = 43
	CIRAnalysisSize = 24
	TWRSize         = 40
)

// TWRRecord is the per-round ranging result.
type TWRRecord struct {
	Treply1 uint64
	Treply2 uint64
	Tround1 uint64
	Tround2 uint64
	DistMM  uint32
	Count   uint16
	// RotationDeg is the antenna sweep position the round was
	// measured at.
	RotationDeg uint16
}

// Emitter writes the telemetry stream. It is written from the main
// loop only; interrupt context never touches the serial link.
type Emitter struct {
	w   io.Writer
	buf [TimePOASize]byte
}

func New(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Printf writes an interleaved human-readable line.
func (e *Emitter) Printf(format string, args ...any) {
	fmt.Fprintf(e.w, format, args...)
}

// Blob writes one length-tagged binary record.
func (e *Emitter) Blob(kind string, version int, payload []byte) error {
	if _, err := fmt.Fprintf(e.w, "BLOB / %s / v%d / %d\n", kind, version, len(payload)); err != nil {
		return err
	}
	if _, err := e.w.Write(payload); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, "\n")
	return err
}

// EmitDiagnostics writes the time/phase-of-arrival record and the three
// per-pipeline CIR analysis records for the frame just received.
func (e *Emitter) EmitDiagnostics(d *dw3000.Diagnostics, stsQual int32, stsQualIndex int16) error {
	b := e.buf[:TimePOASize]
	b[0] = d.CIADiag1
	binary.LittleEndian.PutUint16(b[1:], d.IPPOA)
	binary.LittleEndian.PutUint16(b[3:], d.STS1POA)
	binary.LittleEndian.PutUint16(b[5:], d.STS2POA)
	binary.LittleEndian.PutUint16(b[7:], uint16(d.PDoA))
	binary.LittleEndian.PutUint16(b[9:], uint16(d.XtalOffset))
	binary.LittleEndian.PutUint32(b[11:], uint32(stsQual))
	binary.LittleEndian.PutUint16(b[15:], uint16(stsQualIndex))
	copy(b[17:22], d.TDoA[:5])
	b[22] = d.TDoA[5] & 0x01 // sign bit of the 41-bit value
	copy(b[23:28], d.IPTOA[:])
	b[28] = d.IPTOAStatus
	copy(b[29:34], d.STS1TOA[:])
	b[34] = d.STS1TOAStatus
	copy(b[35:40], d.STS2TOA[:])
	b[40] = d.STS2TOAStatus
	b[41] = d.FPThresholdMD
	b[42] = d.DGCDecision
	if err := e.Blob("toa", 3, b); err != nil {
		return err
	}

	for _, seg := range []struct {
		kind string
		diag *dw3000.SegmentDiag
	}{
		{"cir analysis ip", &d.IP},
		{"cir analysis sts1", &d.STS1},
		{"cir analysis sts2", &d.STS2},
	} {
		c := e.buf[:CIRAnalysisSize]
		binary.LittleEndian.PutUint32(c[0:], seg.diag.Peak)
		binary.LittleEndian.PutUint32(c[4:], seg.diag.Power)
		binary.LittleEndian.PutUint32(c[8:], seg.diag.F1)
		binary.LittleEndian.PutUint32(c[12:], seg.diag.F2)
		binary.LittleEndian.PutUint32(c[16:], seg.diag.F3)
		binary.LittleEndian.PutUint16(c[20:], seg.diag.FpIndex)
		binary.LittleEndian.PutUint16(c[22:], seg.diag.AccumCount)
		if err := e.Blob(seg.kind, 1, c); err != nil {
			return err
		}
	}
	return nil
}

// EmitCIR writes the raw accumulator dump (all three segments,
// including the gaps between them; the leading dummy byte is already
// stripped by the caller).
func (e *Emitter) EmitCIR(acc []byte) error {
	return e.Blob("cir", 1, acc)
}

// EmitTWR writes the per-round ranging record.
func (e *Emitter) EmitTWR(r *TWRRecord) error {
	b := e.buf[:TWRSize]
	binary.LittleEndian.PutUint64(b[0:], r.Treply1)
	binary.LittleEndian.PutUint64(b[8:], r.Treply2)
	binary.LittleEndian.PutUint64(b[16:], r.Tround1)
	binary.LittleEndian.PutUint64(b[24:], r.Tround2)
	binary.LittleEndian.PutUint32(b[32:], r.DistMM)
	binary.LittleEndian.PutUint16(b[36:], r.Count)
	binary.LittleEndian.PutUint16(b[38:], r.RotationDeg)
	return e.Blob("twr", 2, b)
}
