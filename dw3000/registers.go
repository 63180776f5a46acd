package dw3000

// Register ids combine the register file in bits 16.. with the
// sub-address in the low bits, mirroring the two-octet SPI header
// layout (write flag, file, 7-bit offset).
type regID uint32

const (
	// General configuration and status, file 0x00.
	regDevID     regID = 0x000000
	regSysCfg    regID = 0x000010
	regSysTime   regID = 0x00001C
	regTxFctrl   regID = 0x000024
	regDxTime    regID = 0x00002C
	regSysEnable regID = 0x00003C
	regSysStatus regID = 0x000044
	regRxFInfo   regID = 0x00004C
	regRxTime    regID = 0x000064
	regTxTime    regID = 0x000074

	// RF and channel configuration, file 0x01.
	regChanCtrl regID = 0x010014
	regTxPower  regID = 0x01000C

	// STS configuration and status, file 0x02.
	regStsCfg regID = 0x020000
	regStsSts regID = 0x020008

	// Receiver gain control, file 0x03.
	regDgcCfg regID = 0x030018
	regDgcDbg regID = 0x030060

	// Crystal trim, file 0x09.
	regXtalTrim regID = 0x090014

	// CIA first-path results, file 0x0C. The Ipatov (preamble) block
	// comes first, then the two STS blocks; each TOA field is eight
	// bytes holding the 40-bit time of arrival, its status byte and
	// the phase of arrival.
	regIPTOALo   regID = 0x0C0000
	regIPTOAHi   regID = 0x0C0004
	regSTSTOALo  regID = 0x0C0008
	regSTSTOAHi  regID = 0x0C000C
	regSTS1TOALo regID = 0x0C0010
	regSTS1TOAHi regID = 0x0C0014
	regTDOA      regID = 0x0C0018
	regPDOA      regID = 0x0C001E
	regCIADiag0  regID = 0x0C0020
	regCIADiag1  regID = 0x0C0024

	// Per-segment diagnostic blocks (peak, power, F1..F3, first-path
	// index, accumulation count).
	regIPDiagPeak   regID = 0x0C0028
	regIPDiagPower  regID = 0x0C002C
	regIPDiagF1     regID = 0x0C0030
	regIPDiagF2     regID = 0x0C0034
	regIPDiagF3     regID = 0x0C0038
	regIPDiagFp     regID = 0x0C0048
	regIPDiagAccum  regID = 0x0C0058
	regSTSDiagPeak  regID = 0x0C005C
	regSTSDiagPower regID = 0x0C0060
	regSTSDiagF1    regID = 0x0C0064
	regSTSDiagF2    regID = 0x0C0068
	regSTSDiagF3    regID = 0x0C006C
	regSTSDiagFp    regID = 0x0C0070
	regSTSDiagAccum regID = 0x0C0074

	// Second STS segment diagnostics, file 0x0D.
	regSTS1DiagPeak  regID = 0x0D0000
	regSTS1DiagPower regID = 0x0D0004
	regSTS1DiagF1    regID = 0x0D0008
	regSTS1DiagF2    regID = 0x0D000C
	regSTS1DiagF3    regID = 0x0D0010
	regSTS1DiagFp    regID = 0x0D0020
	regSTS1DiagAccum regID = 0x0D0030

	// CIA configuration, file 0x0E.
	regCiaConf regID = 0x0E0000

	// Digital diagnostics, file 0x0F.
	regSysState regID = 0x0F0030

	// PMSC, file 0x11.
	regClkCtrl regID = 0x110004
	regLEDCtrl regID = 0x110016

	// Data buffers.
	regRxBuffer regID = 0x120000
	regTxBuffer regID = 0x140000

	// Indirect access, for memories behind the 7-bit offset range
	// (the CIR accumulator).
	regIndirectA  regID = 0x1D0000
	regPtrAddrA   regID = 0x1F0004
	regPtrOffsetA regID = 0x1F0008
)

// accMemFileID is the register file holding the CIR accumulator,
// reachable through the indirect access pointer only.
const accMemFileID = 0x15

// SYS_STATUS / SYS_ENABLE bits.
const (
	statusTXFRS   uint32 = 1 << 7  // transmit frame sent
	statusRXPHE   uint32 = 1 << 12 // PHR error
	statusRXFCG   uint32 = 1 << 14 // frame checksum good
	statusRXFCE   uint32 = 1 << 15 // frame checksum error
	statusRXFSL   uint32 = 1 << 16 // Reed-Solomon sync loss
	statusRXFTO   uint32 = 1 << 17 // frame wait timeout
	statusRXPTO   uint32 = 1 << 21 // preamble detection timeout
	statusSPIRDY  uint32 = 1 << 23 // SPI interface ready
	statusRCInit  uint32 = 1 << 24 // IDLE_RC reached
	statusRXSTO   uint32 = 1 << 26 // SFD timeout
	statusHPDWARN uint32 = 1 << 27 // delayed TRX time already passed

	statusAllRxErr     = statusRXPHE | statusRXFCE | statusRXFSL | statusRXSTO
	statusAllRxTimeout = statusRXFTO | statusRXPTO
)

// Interrupt events selectable through SetInterrupts. The values mirror
// the SYS_STATUS bits.
const (
	EvtTxDone    = statusTXFRS
	EvtRxOK      = statusRXFCG
	EvtRxTimeout = statusAllRxTimeout
	EvtRxError   = statusAllRxErr
)

// EvtRanging is the full set used by the ranging applications.
const EvtRanging = EvtTxDone | EvtRxOK | EvtRxTimeout | EvtRxError

// RX_FINFO frame length field.
const rxFLenMask uint32 = 0x3ff

// Fast commands, encoded as a single SPI octet 0b1_ccccc_1.
const (
	cmdTxRxOff  byte = 0x81 | 0x0<<1
	cmdTx       byte = 0x81 | 0x1<<1
	cmdRx       byte = 0x81 | 0x2<<1
	cmdDTx      byte = 0x81 | 0x3<<1
	cmdDRx      byte = 0x81 | 0x4<<1
	cmdTxW4R    byte = 0x81 | 0xC<<1
	cmdDTxW4R   byte = 0x81 | 0xD<<1
	cmdClearIRQ byte = 0x81 | 0x12<<1
)

// CLK_CTRL values for accumulator reads.
const (
	clkAuto       uint16 = 0x0000
	clkForceAccum uint16 = 0x0040 // keep the CIA memory clock running
)

// LED control.
const (
	LEDsEnable    uint8 = 0x1
	LEDsInitBlink uint8 = 0x2
)

// CIA diagnostic logging level written to regCiaConf.
const CIADiagLogAll uint8 = 0x8

// header encodes the two-octet transaction header for a register
// access: bit 15 write, bit 14 full address form, bits 13..9 register
// file, bits 8..2 sub-address.
func header(write bool, id regID) [2]byte {
	file := uint16(id>>16) & 0x1f
	off := uint16(id) & 0x7f
	h := uint16(1)<<14 | file<<9 | off<<2
	if write {
		h |= 1 << 15
	}
	return [2]byte{byte(h >> 8), byte(h)}
}
