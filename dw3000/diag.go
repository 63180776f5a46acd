package dw3000

// SegmentDiag holds the CIR analysis block the CIA computes for one
// receiver pipeline (Ipatov preamble, first or second STS segment).
type SegmentDiag struct {
	Peak       uint32 // peak amplitude and index
	Power      uint32 // channel area
	F1, F2, F3 uint32 // magnitudes around the first path
	FpIndex    uint16 // first-path index, Q10.6
	AccumCount uint16 // accumulated symbols
}

// Diagnostics is the per-frame receiver diagnostic set read after a
// good reception with CIA logging enabled.
type Diagnostics struct {
	CIADiag1 uint8

	IPPOA   uint16 // phase of arrival, preamble pipeline
	STS1POA uint16
	STS2POA uint16

	PDoA       int16 // phase difference of arrival between the antennas
	XtalOffset int16 // crystal offset measured against the remote

	// TDoA is the 41-bit time difference between the STS segments;
	// bit 0 of TDoA[5] is the sign.
	TDoA [6]byte

	IPTOA         [5]byte // 40-bit times of arrival per pipeline
	IPTOAStatus   uint8
	STS1TOA       [5]byte
	STS1TOAStatus uint8
	STS2TOA       [5]byte
	STS2TOAStatus uint8

	IP   SegmentDiag
	STS1 SegmentDiag
	STS2 SegmentDiag

	// FPThresholdMD is the first-path threshold metric decision bit.
	FPThresholdMD uint8
	// DGCDecision is the gain decision of the receiver front end.
	DGCDecision uint8
}

type segRegs struct {
	peak, power, f1, f2, f3, fp, accum regID
}

var (
	ipDiagRegs   = segRegs{regIPDiagPeak, regIPDiagPower, regIPDiagF1, regIPDiagF2, regIPDiagF3, regIPDiagFp, regIPDiagAccum}
	sts1DiagRegs = segRegs{regSTSDiagPeak, regSTSDiagPower, regSTSDiagF1, regSTSDiagF2, regSTSDiagF3, regSTSDiagFp, regSTSDiagAccum}
	sts2DiagRegs = segRegs{regSTS1DiagPeak, regSTS1DiagPower, regSTS1DiagF1, regSTS1DiagF2, regSTS1DiagF3, regSTS1DiagFp, regSTS1DiagAccum}
)

// ReadDiagnostics reads the full diagnostic set of the last received
// frame.
func (d *Device) ReadDiagnostics() (Diagnostics, error) {
	var g Diagnostics

	// Each TOA field is eight bytes: the 40-bit time of arrival, one
	// status byte and the 14-bit phase of arrival.
	var toa [8]byte
	if err := d.readReg(regIPTOALo, toa[:]); err != nil {
		return g, err
	}
	copy(g.IPTOA[:], toa[:5])
	g.IPTOAStatus = toa[5]
	g.IPPOA = (uint16(toa[6]) | uint16(toa[7])<<8) & 0x3fff

	if err := d.readReg(regSTSTOALo, toa[:]); err != nil {
		return g, err
	}
	copy(g.STS1TOA[:], toa[:5])
	g.STS1POA = (uint16(toa[6]) | uint16(toa[7])<<8) & 0x3fff
	// The status byte inside the TOA field is unreliable for the STS
	// pipelines; read the register byte directly and let the reserved
	// top bit fall away downstream.
	st, err := d.read8(regSTSTOAHi + 3)
	if err != nil {
		return g, err
	}
	g.STS1TOAStatus = st

	if err := d.readReg(regSTS1TOALo, toa[:]); err != nil {
		return g, err
	}
	copy(g.STS2TOA[:], toa[:5])
	g.STS2POA = (uint16(toa[6]) | uint16(toa[7])<<8) & 0x3fff
	st, err = d.read8(regSTS1TOAHi + 3)
	if err != nil {
		return g, err
	}
	g.STS2TOAStatus = st

	if err := d.readReg(regTDOA, g.TDoA[:]); err != nil {
		return g, err
	}

	// PDoA shares its register with the first-path threshold test:
	// 14 bits of signed phase difference, decision bit at 14.
	pd, err := d.read16(regPDOA)
	if err != nil {
		return g, err
	}
	g.PDoA = int16(pd<<2) >> 2
	g.FPThresholdMD = uint8(pd>>14) & 0x1

	xt, err := d.read16(regCIADiag0)
	if err != nil {
		return g, err
	}
	// 13-bit signed crystal offset.
	g.XtalOffset = int16(xt<<3) >> 3

	cd, err := d.read8(regCIADiag1)
	if err != nil {
		return g, err
	}
	g.CIADiag1 = cd

	for _, s := range []struct {
		regs segRegs
		dst  *SegmentDiag
	}{
		{ipDiagRegs, &g.IP},
		{sts1DiagRegs, &g.STS1},
		{sts2DiagRegs, &g.STS2},
	} {
		if err := d.readSegmentDiag(s.regs, s.dst); err != nil {
			return g, err
		}
	}

	dgc, err := d.read8(regDgcDbg + 3)
	if err != nil {
		return g, err
	}
	g.DGCDecision = (dgc & 0x70) >> 4

	return g, nil
}

func (d *Device) readSegmentDiag(r segRegs, dst *SegmentDiag) error {
	var err error
	if dst.Peak, err = d.read32(r.peak); err != nil {
		return err
	}
	if dst.Power, err = d.read32(r.power); err != nil {
		return err
	}
	if dst.F1, err = d.read32(r.f1); err != nil {
		return err
	}
	if dst.F2, err = d.read32(r.f2); err != nil {
		return err
	}
	if dst.F3, err = d.read32(r.f3); err != nil {
		return err
	}
	fp, err := d.read16(r.fp)
	if err != nil {
		return err
	}
	dst.FpIndex = fp
	acc, err := d.read16(r.accum)
	if err != nil {
		return err
	}
	dst.AccumCount = acc & 0xfff
	return nil
}
