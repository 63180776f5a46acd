// package dw3000 implements the driver surface of the DW3000 UWB
// transceiver used by the ranging applications: reset and bring-up,
// channel configuration, immediate and delayed transmission, receive
// control, hardware timestamps, CIA diagnostics, accumulator reads and
// STS quality.
//
// The interrupt line is serviced by a goroutine blocked on the IRQ pin
// edge; callbacks registered with SetCallbacks run on that goroutine
// and must only post flags or restart reception. Every SPI transaction
// is serialized by an internal mutex so the service goroutine and the
// main loop never interleave on the bus.
package dw3000

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ETH-PBL/UWB-DualAntenna-AoA/cir"
	"github.com/ETH-PBL/UWB-DualAntenna-AoA/dwtime"
)

var (
	// ErrLateTx reports a delayed transmission whose target time had
	// already passed when the radio checked it.
	ErrLateTx = errors.New("dw3000: delayed send time missed")

	// ErrBadDeviceID reports an unexpected value in the device id
	// register, usually a wiring or SPI problem.
	ErrBadDeviceID = errors.New("dw3000: unexpected device id")

	errResetTimeout = errors.New("dw3000: IDLE_RC not reached after reset")
)

// STS packet configurations.
const (
	STSModeOff uint8 = 0
	STSMode1   uint8 = 1
	// STSMode2 places the STS between SFD and PHR and in a second
	// slot, enabling PDoA and the two STS timestamps.
	STSMode2 uint8 = 2
)

// PDoA modes.
const (
	PDoAModeOff uint8 = 0
	PDoAMode1   uint8 = 1
	PDoAMode3   uint8 = 3
)

// Data rates.
const (
	DataRate850K uint8 = 0
	DataRate6M8  uint8 = 1
)

// Config holds the channel configuration written by Configure.
type Config struct {
	Channel          uint8  // 5 or 9
	TxPreambleLength uint16 // symbols
	PreambleCode     uint8  // 9..12 select the 64 MHz PRF
	SFDType          uint8
	DataRate         uint8
	SFDTimeout       uint16 // symbols, usually preamble + 1 + SFD length - PAC
	STSMode          uint8
	STSLength        uint16 // symbols
	PDoAMode         uint8
}

// DefaultConfig is the dual-antenna data-collection setup: channel 5,
// 64 MHz PRF, 128-symbol preamble, STS packet configuration 2 with a
// 64-symbol STS and PDoA mode 3.
func DefaultConfig() Config {
	return Config{
		Channel:          5,
		TxPreambleLength: 128,
		PreambleCode:     9,
		SFDType:          3,
		DataRate:         DataRate6M8,
		SFDTimeout:       129,
		STSMode:          STSMode2,
		STSLength:        64,
		PDoAMode:         PDoAMode3,
	}
}

// Options selects the buses and pins the radio is wired to.
type Options struct {
	// SPIPort is the SPI port name; empty selects the first
	// registered port. The DW3000 supports up to 38 MHz.
	SPIPort  string
	SPISpeed physic.Frequency
	// IRQ and Reset are GPIO names resolved through the host
	// registry.
	IRQ   string
	Reset string
	Log   *log.Logger
}

// Device is a DW3000 behind an SPI port.
type Device struct {
	mu   sync.Mutex // serializes SPI transactions and the scratch buffers
	port spi.PortCloser
	conn spi.Conn
	irq  gpio.PinIn
	rst  gpio.PinOut
	log  *log.Logger

	cfg Config

	cbTxDone func()
	cbRxOK   func(length int)
	cbRxErr  func()

	stop chan struct{}

	wbuf [cir.AccumBytes + 8]byte
	rbuf [cir.AccumBytes + 8]byte
}

// Open claims the SPI port and the two GPIO lines. The radio is left
// untouched; call Reset, Init and Configure to bring it up.
func Open(o Options) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	speed := o.SPISpeed
	if speed == 0 {
		speed = 36 * physic.MegaHertz
	}
	p, err := spireg.Open(o.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("dw3000: %w", err)
	}
	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("dw3000: %w", err)
	}
	irq := gpioreg.ByName(o.IRQ)
	if irq == nil {
		p.Close()
		return nil, fmt.Errorf("dw3000: no IRQ pin %q", o.IRQ)
	}
	rst := gpioreg.ByName(o.Reset)
	if rst == nil {
		p.Close()
		return nil, fmt.Errorf("dw3000: no reset pin %q", o.Reset)
	}
	if err := irq.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		p.Close()
		return nil, fmt.Errorf("dw3000: %w", err)
	}
	lg := o.Log
	if lg == nil {
		lg = log.Default()
	}
	return &Device{
		port: p,
		conn: c,
		irq:  irq,
		rst:  rst,
		log:  lg,
		stop: make(chan struct{}),
	}, nil
}

// Close stops interrupt service and releases the SPI port.
func (d *Device) Close() error {
	close(d.stop)
	return d.port.Close()
}

// Reset pulses the RSTn line, waits for the chip to start up and polls
// for the IDLE_RC state.
func (d *Device) Reset() error {
	if err := d.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("dw3000: %w", err)
	}
	time.Sleep(1 * time.Millisecond)
	if err := d.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("dw3000: %w", err)
	}
	// INIT_RC to IDLE_RC takes the chip a few milliseconds.
	time.Sleep(20 * time.Millisecond)
	deadline := time.Now().Add(500 * time.Millisecond)
	for !d.CheckIdleRC() {
		if time.Now().After(deadline) {
			return errResetTimeout
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// CheckIdleRC reports whether the chip reached the IDLE_RC state.
func (d *Device) CheckIdleRC() bool {
	v, err := d.read32(regSysStatus)
	return err == nil && v&statusRCInit != 0
}

// Init verifies the device id and loads the analog defaults. Errors are
// fatal: the host cannot talk to the radio.
func (d *Device) Init() error {
	id, err := d.read32(regDevID)
	if err != nil {
		return err
	}
	if id>>16 != 0xdeca {
		return fmt.Errorf("%w: %#08x", ErrBadDeviceID, id)
	}
	d.log.Debug("dw3000 detected", "devid", fmt.Sprintf("%#08x", id))
	// Mid-scale crystal trim until a calibration value is known.
	if err := d.write8(regXtalTrim, 0x2e); err != nil {
		return err
	}
	return nil
}

// Configure writes the channel setup. A failure here means the PLL or
// receiver calibration did not converge and the host should reset the
// device.
func (d *Device) Configure(cfg Config) error {
	d.cfg = cfg
	chanCtrl := uint32(cfg.Channel&1) |
		uint32(cfg.SFDType&0x3)<<1 |
		uint32(cfg.PreambleCode&0x1f)<<3 |
		uint32(cfg.PreambleCode&0x1f)<<8
	if err := d.write32(regChanCtrl, chanCtrl); err != nil {
		return err
	}
	txFctrl := uint32(cfg.DataRate&0x1)<<10 | uint32(cfg.TxPreambleLength)<<12
	if err := d.write32(regTxFctrl, txFctrl); err != nil {
		return err
	}
	stsCfg := uint32(cfg.STSLength/8-1) & 0xff
	if err := d.write32(regStsCfg, stsCfg); err != nil {
		return err
	}
	sysCfg := uint32(cfg.STSMode&0x3)<<12 | uint32(cfg.PDoAMode&0x3)<<16
	if err := d.write32(regSysCfg, sysCfg); err != nil {
		return err
	}
	// Receiver gain tuning is channel dependent.
	dgc := uint32(0x64)
	if cfg.Channel == 9 {
		dgc = 0x9a
	}
	if err := d.write32(regDgcCfg, dgc); err != nil {
		return err
	}
	// The PLL locks as part of applying the channel; without the lock
	// the radio cannot leave IDLE_RC.
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		v, err := d.read32(regSysStatus)
		if err != nil {
			return err
		}
		const cplock = 1 << 1
		if v&cplock != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("dw3000: PLL failed to lock")
		}
		time.Sleep(time.Millisecond)
	}
}

// SetCallbacks registers the interrupt handlers. They run on the
// interrupt service goroutine.
func (d *Device) SetCallbacks(txDone func(), rxOK func(length int), rxErr func()) {
	d.cbTxDone = txDone
	d.cbRxOK = rxOK
	d.cbRxErr = rxErr
}

// SetInterrupts enables the given event set (EvtTxDone, EvtRxOK, ...).
func (d *Device) SetInterrupts(mask uint32) error {
	return d.write32(regSysEnable, mask)
}

// ClearSPIReady clears the start-up latches (SPI ready and IDLE_RC) so
// the first serviced interrupt is a real radio event.
func (d *Device) ClearSPIReady() error {
	return d.write32(regSysStatus, statusRCInit|statusSPIRDY)
}

// StartInterrupts launches the interrupt service goroutine.
func (d *Device) StartInterrupts() {
	go d.irqLoop()
}

func (d *Device) irqLoop() {
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		if !d.irq.WaitForEdge(500 * time.Millisecond) {
			continue
		}
		d.serviceIRQ()
	}
}

// serviceIRQ demultiplexes the status register into the registered
// callbacks, one event at a time, clearing each event before its
// callback runs.
func (d *Device) serviceIRQ() {
	status, err := d.read32(regSysStatus)
	if err != nil {
		d.log.Error("dw3000 status read failed", "err", err)
		return
	}
	if status&statusRXFCG != 0 {
		n := 0
		if info, err := d.read32(regRxFInfo); err == nil {
			n = int(info & rxFLenMask)
		}
		d.write32(regSysStatus, statusRXFCG)
		if cb := d.cbRxOK; cb != nil {
			cb(n)
		}
	}
	if status&statusTXFRS != 0 {
		d.write32(regSysStatus, statusTXFRS)
		if cb := d.cbTxDone; cb != nil {
			cb()
		}
	}
	if status&(statusAllRxErr|statusAllRxTimeout) != 0 {
		d.write32(regSysStatus, statusAllRxErr|statusAllRxTimeout)
		if cb := d.cbRxErr; cb != nil {
			cb()
		}
	}
}

// ConfigCIADiag sets the diagnostic logging level of the channel
// impulse analyser.
func (d *Device) ConfigCIADiag(level uint8) error {
	return d.write8(regCiaConf, level)
}

// SetLEDs configures the debug LED behaviour.
func (d *Device) SetLEDs(mode uint8) error {
	return d.write8(regLEDCtrl, mode)
}

// SendNow writes the frame and starts an immediate transmission. With
// responseExpected the receiver turns on automatically after the frame
// is sent.
func (d *Device) SendNow(frame []byte, responseExpected bool) error {
	if err := d.writeTx(frame); err != nil {
		return err
	}
	cmd := cmdTx
	if responseExpected {
		cmd = cmdTxW4R
	}
	return d.fastCommand(cmd)
}

// SendDelayed arms a transmission at the given device time. The radio
// takes the top 32 bits of the 40-bit target; if the time has already
// passed when the command is issued the transmission is aborted and
// ErrLateTx returned.
func (d *Device) SendDelayed(frame []byte, at dwtime.Ticks, responseExpected bool) error {
	if err := d.write32(regDxTime, at.DelayedTRXTime()); err != nil {
		return err
	}
	if err := d.writeTx(frame); err != nil {
		return err
	}
	cmd := cmdDTx
	if responseExpected {
		cmd = cmdDTxW4R
	}
	if err := d.fastCommand(cmd); err != nil {
		return err
	}
	status, err := d.read32(regSysStatus)
	if err != nil {
		return err
	}
	if status&statusHPDWARN != 0 {
		d.ForceTRXOff()
		return ErrLateTx
	}
	return nil
}

func (d *Device) writeTx(frame []byte) error {
	if err := d.writeReg(regTxBuffer, frame); err != nil {
		return err
	}
	// Frame length includes the FCS the radio appends; the ranging bit
	// makes the timestamp available.
	const rangingBit = 1 << 11
	fctrl := uint32(len(frame)+2) | rangingBit |
		uint32(d.cfg.DataRate&0x1)<<10 | uint32(d.cfg.TxPreambleLength)<<12
	return d.write32(regTxFctrl, fctrl)
}

// EnableRx activates the receiver immediately.
func (d *Device) EnableRx() error {
	return d.fastCommand(cmdRx)
}

// EnableRxDelayed activates the receiver at the given device time,
// truncated like a delayed transmission.
func (d *Device) EnableRxDelayed(at dwtime.Ticks) error {
	if err := d.write32(regDxTime, at.DelayedTRXTime()); err != nil {
		return err
	}
	return d.fastCommand(cmdDRx)
}

// ForceTRXOff aborts any transmission or reception unconditionally.
// Required after timeouts: a transmission with response expected leaves
// the receiver running, and no new transmission starts until it is off.
func (d *Device) ForceTRXOff() {
	if err := d.fastCommand(cmdTxRxOff); err != nil {
		d.log.Error("dw3000 trx off failed", "err", err)
	}
}

// TxTimestamp returns the adjusted transmit timestamp of the last sent
// frame.
func (d *Device) TxTimestamp() (dwtime.Ticks, error) {
	return d.readTimestamp(regTxTime)
}

// RxTimestamp returns the adjusted receive timestamp of the last good
// frame.
func (d *Device) RxTimestamp() (dwtime.Ticks, error) {
	return d.readTimestamp(regRxTime)
}

func (d *Device) readTimestamp(id regID) (dwtime.Ticks, error) {
	var buf [dwtime.EncodedLen]byte
	if err := d.readReg(id, buf[:]); err != nil {
		return 0, err
	}
	return dwtime.Decode40(buf[:]), nil
}

// ReadRxData copies the received frame from the RX buffer.
func (d *Device) ReadRxData(dst []byte) error {
	return d.readReg(regRxBuffer, dst)
}

// SysState returns the low system state machine register, useful when
// debugging transceiver state transitions.
func (d *Device) SysState() (uint32, error) {
	return d.read32(regSysState)
}

// Status bits for the interrupt-less demo applications that poll the
// status register directly.
const (
	StatusRxGood  = statusRXFCG
	StatusRxError = statusAllRxErr | statusAllRxTimeout
)

// ReadStatus returns the event status register.
func (d *Device) ReadStatus() (uint32, error) {
	return d.read32(regSysStatus)
}

// ClearStatus acknowledges the given status events.
func (d *Device) ClearStatus(mask uint32) error {
	return d.write32(regSysStatus, mask)
}

// RxFrameLength returns the length of the received frame, FCS
// included.
func (d *Device) RxFrameLength() (int, error) {
	v, err := d.read32(regRxFInfo)
	return int(v & rxFLenMask), err
}

// STSQuality returns the STS accumulation quality relative to the
// acceptance threshold and the STS quality index. A non-negative score
// means the timestamps derived from the STS can be trusted.
func (d *Device) STSQuality() (score int32, index int16) {
	v, err := d.read32(regStsSts)
	if err != nil {
		return -1, 0
	}
	qual := int32(v & 0xfff)
	index = int16(v >> 16)
	// 60% of the nominal accumulation value for the configured STS
	// length is the acceptance threshold.
	threshold := int32(d.cfg.STSLength) * 8 * 6 / 10
	return qual - threshold, index
}

// ReadAccumulator reads len(dst) bytes of CIR accumulator memory
// starting at the given sample offset. dst[0] receives a dummy byte
// inserted by the hardware; samples follow.
func (d *Device) ReadAccumulator(dst []byte, sampleOffset int) error {
	// The accumulator memory is only readable while its clock is
	// forced on.
	if err := d.write16(regClkCtrl, clkForceAccum); err != nil {
		return err
	}
	defer d.write16(regClkCtrl, clkAuto)
	if err := d.write32(regPtrAddrA, accMemFileID); err != nil {
		return err
	}
	if err := d.write32(regPtrOffsetA, uint32(sampleOffset)); err != nil {
		return err
	}
	return d.readReg(regIndirectA, dst)
}

// Register access helpers. All of them run one SPI transaction under
// the device mutex.

func (d *Device) fastCommand(cmd byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wbuf[0] = cmd
	return d.conn.Tx(d.wbuf[:1], d.rbuf[:1])
}

func (d *Device) readReg(id regID, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := header(false, id)
	n := len(dst)
	w := d.wbuf[:2+n]
	w[0], w[1] = h[0], h[1]
	for i := 2; i < len(w); i++ {
		w[i] = 0
	}
	r := d.rbuf[:2+n]
	if err := d.conn.Tx(w, r); err != nil {
		return fmt.Errorf("dw3000: %w", err)
	}
	copy(dst, r[2:])
	return nil
}

func (d *Device) writeReg(id regID, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := header(true, id)
	w := d.wbuf[:2+len(src)]
	w[0], w[1] = h[0], h[1]
	copy(w[2:], src)
	if err := d.conn.Tx(w, d.rbuf[:len(w)]); err != nil {
		return fmt.Errorf("dw3000: %w", err)
	}
	return nil
}

func (d *Device) read8(id regID) (uint8, error) {
	var b [1]byte
	err := d.readReg(id, b[:])
	return b[0], err
}

func (d *Device) read16(id regID) (uint16, error) {
	var b [2]byte
	err := d.readReg(id, b[:])
	return uint16(b[0]) | uint16(b[1])<<8, err
}

func (d *Device) read32(id regID) (uint32, error) {
	var b [4]byte
	err := d.readReg(id, b[:])
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, err
}

func (d *Device) write8(id regID, v uint8) error {
	return d.writeReg(id, []byte{v})
}

func (d *Device) write16(id regID, v uint16) error {
	return d.writeReg(id, []byte{byte(v), byte(v >> 8)})
}

func (d *Device) write32(id regID, v uint32) error {
	return d.writeReg(id, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}
